// Package sink holds what the durable result sinks share.
package sink

import "github.com/cockroachdb/errors"

// Mode selects how output already present at the destination is treated.
type Mode int

const (
	// ModeAppend keeps existing output and treats no query as processed.
	ModeAppend Mode = iota
	// ModeResume keeps existing output and treats every query_id found in it as processed.
	ModeResume
	// ModeOverwrite discards existing output first.
	ModeOverwrite
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeResume:
		return "resume"
	case ModeOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// ModeFor derives the mode from the resume and overwrite switches.
// Asking for both is a configuration error.
func ModeFor(resume, overwrite bool) (Mode, error) {
	switch {
	case resume && overwrite:
		return ModeAppend, errors.New("resume and overwrite are mutually exclusive")
	case overwrite:
		return ModeOverwrite, nil
	case resume:
		return ModeResume, nil
	default:
		return ModeAppend, nil
	}
}
