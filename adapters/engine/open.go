// Package engine provides the nested sampling engines the sampler bridge
// can drive.
package engine

import (
	"fmt"
	"sort"
	"strings"

	"cosmopipe/internal"
	"cosmopipe/internal/errors"
	"cosmopipe/ports"
)

// foreignEngines are engines that live in separately built libraries and
// are not linked into this binary
var foreignEngines = map[string]string{
	"polychord": "libchord",
	"multinest": "libmultinest",
}

// Open returns the engine registered under name. Names of foreign engines
// that are not linked in fail with a foreign boundary error.
func Open(name string, logger *internal.Logger) (ports.NestedEngine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "reference", "builtin":
		return NewReference(logger), nil
	}

	if lib, ok := foreignEngines[strings.ToLower(name)]; ok {
		return nil, errors.ForeignBoundary(fmt.Sprintf(
			"%s could not be loaded: %s is not linked into this build. "+
				"This may mean a compiler or MPI toolchain was not found when it was built, or that some other error occurred",
			name, lib), nil)
	}
	return nil, errors.ForeignBoundary(fmt.Sprintf("unknown nested sampling engine %q (known: %s)", name, strings.Join(Names(), ", ")), nil)
}

// Names lists the engine names Open recognises
func Names() []string {
	names := []string{"reference"}
	for n := range foreignEngines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
