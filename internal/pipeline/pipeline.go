// Package pipeline runs an ordered chain of modules against a shared data
// block and, for likelihood pipelines, turns parameter vectors into
// log-likelihoods.
package pipeline

import (
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"cosmopipe/domain/core"
	"cosmopipe/domain/datablock"
	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/modules"
)

// Pipeline owns an ordered list of modules and their lifecycle
type Pipeline struct {
	options *config.Options
	modules []*modules.Instance
	logger  *internal.Logger

	Quiet  bool
	Debug  bool
	Timing bool

	cleaned bool
}

// New builds a pipeline from the [pipeline] section of opts. Each name in
// "modules" must have a section whose "file" option names a registered
// implementation.
func New(opts *config.Options, registry *modules.Registry, logger *internal.Logger) (*Pipeline, error) {
	p, err := newEmpty(opts, logger)
	if err != nil {
		return nil, err
	}
	for _, name := range opts.Strings(core.SectionPipeline, "modules") {
		file, err := opts.RequireString(name, "file")
		if err != nil {
			return nil, errors.Wrapf(err, "module %s", name)
		}
		impl, err := registry.Lookup(file)
		if err != nil {
			return nil, errors.Wrapf(err, "module %s", name)
		}
		p.modules = append(p.modules, modules.NewInstance(name, file, impl))
	}
	return p, nil
}

// NewWithModules builds a pipeline around already constructed module
// instances, used when modules are assembled in code
func NewWithModules(opts *config.Options, logger *internal.Logger, instances ...*modules.Instance) (*Pipeline, error) {
	p, err := newEmpty(opts, logger)
	if err != nil {
		return nil, err
	}
	p.modules = append(p.modules, instances...)
	return p, nil
}

func newEmpty(opts *config.Options, logger *internal.Logger) (*Pipeline, error) {
	if opts == nil {
		opts = config.New()
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	p := &Pipeline{options: opts, logger: logger}
	var err error
	if p.Quiet, err = opts.Bool(core.SectionPipeline, "quiet", true); err != nil {
		return nil, err
	}
	if p.Debug, err = opts.Bool(core.SectionPipeline, "debug", false); err != nil {
		return nil, err
	}
	if p.Timing, err = opts.Bool(core.SectionPipeline, "timing", false); err != nil {
		return nil, err
	}
	return p, nil
}

// Options returns the configuration the pipeline was built from
func (p *Pipeline) Options() *config.Options {
	return p.options
}

// Modules returns the module instances in execution order
func (p *Pipeline) Modules() []*modules.Instance {
	return append([]*modules.Instance(nil), p.modules...)
}

// Logger returns the pipeline's logger
func (p *Pipeline) Logger() *internal.Logger {
	return p.logger
}

// setupSections are copied into every module's configuration block
var setupSections = []string{core.SectionPipeline, core.SectionGeneral, core.SectionLogging, core.SectionDebug}

// configBlock builds the minimal block a module sees at setup: the global
// sections plus its own, which is stored under module_options
func (p *Pipeline) configBlock(module string) (*datablock.Block, error) {
	block := datablock.New()
	copySection := func(from, to string) error {
		for _, name := range p.options.Names(from) {
			val, ok := p.options.Typed(from, name)
			if !ok {
				continue
			}
			if err := block.Set(to, name, val); err != nil {
				return errors.Wrapf(errors.ConfigInvalid(err.Error()), "option %s/%s", from, name)
			}
		}
		return nil
	}
	for _, sec := range setupSections {
		if err := copySection(sec, sec); err != nil {
			return nil, err
		}
	}
	if err := copySection(module, core.SectionModuleOptions); err != nil {
		return nil, err
	}
	return block, nil
}

// Setup initialises every module once, in declared order. The first
// failure aborts the whole pipeline and cleans up the modules already set
// up; the pipeline is then spent and Cleanup does nothing.
func (p *Pipeline) Setup() error {
	for _, m := range p.modules {
		block, err := p.configBlock(m.Name)
		if err != nil {
			return p.abortSetup(err)
		}
		start := time.Now()
		if err := m.Setup(block); err != nil {
			return p.abortSetup(err)
		}
		if p.Timing {
			p.logger.Info("setup of %s took %s", m.Name, time.Since(start))
		}
	}
	if !p.Quiet {
		p.logger.Info("Setup all pipeline modules")
	}
	return nil
}

func (p *Pipeline) abortSetup(err error) error {
	errs := []error{err}
	for _, m := range p.modules {
		if !m.Ready() {
			continue
		}
		if cerr := m.Cleanup(); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	p.cleaned = true
	if len(errs) == 1 {
		return err
	}
	return stderrors.Join(errs...)
}

// Run executes the modules in order against block. It stops at the first
// module returning a non-zero status and reports false; the pipeline stays
// usable for the next run.
func (p *Pipeline) Run(block *datablock.Block) bool {
	if p.Debug {
		block.EnableLog()
	}
	for _, m := range p.modules {
		if p.Debug {
			p.logger.Debug("Running %.20s ...", m.Name)
			block.LogAccess(datablock.ActionModuleStart, m.Name, "")
		}
		start := time.Now()
		status := m.Execute(block)
		if p.Debug {
			p.logger.Debug("Done %.20s status = %d", m.Name, status)
		}
		if p.Timing {
			p.logger.Info("%s took: %f seconds", m.Name, time.Since(start).Seconds())
		}
		if status != 0 {
			p.reportFailure(block, m, status)
			return false
		}
	}
	if !p.Quiet {
		p.logger.Info("Pipeline ran okay.")
	}
	return true
}

func (p *Pipeline) reportFailure(block *datablock.Block, m *modules.Instance, status int) {
	if p.Debug {
		w := p.logger.Writer()
		_ = block.PrintLog(w)
		fmt.Fprintln(w, "Because you set debug=T I printed a log of all access to data printed above.")
		fmt.Fprintln(w, "Look for the word 'FAIL'")
	}
	if !p.Quiet {
		p.logger.Warn("Error running pipeline in module %s (%d). Aborting this run and returning error status.", m.Name, status)
		if !p.Debug {
			p.logger.Warn("Setting debug=T in [pipeline] might help.")
		}
	}
}

// Cleanup calls every module's cleanup in declared order, even when earlier
// ones fail. All cleanup errors are returned joined. A second call is a no-op.
func (p *Pipeline) Cleanup() error {
	if p.cleaned {
		return nil
	}
	p.cleaned = true
	var errs []error
	for _, m := range p.modules {
		if err := m.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// WriteTimings reports accumulated per-module time, in declared order
func (p *Pipeline) WriteTimings(w io.Writer) {
	fmt.Fprintln(w, "Module timing:")
	for _, m := range p.modules {
		fmt.Fprintf(w, "%s %f (%d calls, %d failures)\n", m.Name, m.Elapsed.Seconds(), m.Calls, m.Failures)
	}
}
