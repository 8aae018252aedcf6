package ports

// Column describes one output column
type Column struct {
	Name    string
	Comment string
}

// OutputSink collects the samples produced by a sampler
type OutputSink interface {
	// AddColumn declares the next output column
	AddColumn(name, comment string) error
	// Metadata records a key/value written before the samples
	Metadata(key string, value interface{}) error
	// Parameters records one sample: the varied parameter vector, the
	// derived values, and any sampler outputs such as like and weight
	Parameters(params, extra []float64, samplerOutputs ...float64) error
	// Final records a summary value after the samples
	Final(key string, value interface{}) error
	Flush() error
	Close() error
}
