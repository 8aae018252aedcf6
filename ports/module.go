package ports

import (
	"cosmopipe/domain/datablock"
)

// ModuleState is the opaque per-module object returned by Setup and handed
// back to Execute and Cleanup
type ModuleState interface{}

// Module is one pluggable computation unit of a pipeline
type Module interface {
	// Setup is called exactly once before any Execute. options holds the
	// module's own configuration section plus the global sections.
	Setup(options *datablock.Block) (ModuleState, error)

	// Execute reads and writes the run's block. A non-zero status fails
	// the run.
	Execute(block *datablock.Block, state ModuleState) int

	// Cleanup is called exactly once at pipeline teardown
	Cleanup(state ModuleState) error
}

// ModuleFactory creates a fresh implementation, one per configured module
type ModuleFactory func() Module
