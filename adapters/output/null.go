package output

// Null discards everything written to it
type Null struct{}

func (Null) AddColumn(string, string) error { return nil }

func (Null) Metadata(string, interface{}) error { return nil }

func (Null) Parameters([]float64, []float64, ...float64) error { return nil }

func (Null) Final(string, interface{}) error { return nil }

func (Null) Flush() error { return nil }

func (Null) Close() error { return nil }
