package datablock

import (
	"fmt"
	"io"
)

// Access log actions
const (
	ActionRead        = "READ"
	ActionWrite       = "WRITE"
	ActionReplace     = "REPLACE"
	ActionHas         = "HAS"
	ActionModuleStart = "MODULE-START"
)

// Access is one recorded read or write
type Access struct {
	Action  string
	Section string
	Name    string
	Err     error
}

// Failed reports whether the access did not succeed
func (a Access) Failed() bool {
	return a.Err != nil
}

// AccessLog records every access made against a block for postmortem
// inspection of failed runs
type AccessLog struct {
	entries []Access
}

// Entries returns the recorded accesses in order
func (l *AccessLog) Entries() []Access {
	return append([]Access(nil), l.entries...)
}

// EnableLog turns on access logging for this block
func (b *Block) EnableLog() {
	if b.log == nil {
		b.log = &AccessLog{}
	}
}

// Log returns the access log, or nil when logging is disabled
func (b *Block) Log() *AccessLog {
	return b.log
}

// LogAccess adds a free-form marker to the log, e.g. the start of a module
func (b *Block) LogAccess(action, sec, name string) {
	if b.log != nil {
		b.log.entries = append(b.log.entries, Access{Action: action, Section: sec, Name: name})
	}
}

func (b *Block) record(action, sec, name string, err error) {
	if b.log != nil {
		b.log.entries = append(b.log.entries, Access{Action: action, Section: norm(sec), Name: norm(name), Err: err})
	}
}

// PrintLog writes the access log in a human readable form. Failed accesses
// are marked FAIL so the offending module can be spotted.
func (b *Block) PrintLog(w io.Writer) error {
	if b.log == nil {
		_, err := fmt.Fprintln(w, "(data block access log was not enabled)")
		return err
	}
	for _, a := range b.log.entries {
		var err error
		switch {
		case a.Action == ActionModuleStart:
			_, err = fmt.Fprintf(w, "--- %s %s\n", a.Action, a.Section)
		case a.Failed():
			_, err = fmt.Fprintf(w, "FAIL %-8s %s/%s : %v\n", a.Action, a.Section, a.Name, a.Err)
		default:
			_, err = fmt.Fprintf(w, "     %-8s %s/%s\n", a.Action, a.Section, a.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
