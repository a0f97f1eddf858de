package scan

import (
	"context"

	"market-scanner/internal/procmem"
)

// State is a field's position in the narrowing lifecycle.
type State int

const (
	Unseeded State = iota
	Narrowing
	Locked
)

func (s State) String() string {
	switch s {
	case Unseeded:
		return "unseeded"
	case Narrowing:
		return "narrowing"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Field tracks the candidate addresses of one logical value.
type Field struct {
	Name string
	Kind Kind

	state      State
	candidates []procmem.Address
}

// NewField returns an unseeded field.
func NewField(name string, kind Kind) *Field {
	return &Field{Name: name, Kind: kind}
}

// State returns the current narrowing state.
func (f *Field) State() State {
	return f.state
}

// Len returns the number of remaining candidates.
func (f *Field) Len() int {
	return len(f.candidates)
}

// Candidates returns a copy of the remaining candidates.
func (f *Field) Candidates() []procmem.Address {
	out := make([]procmem.Address, len(f.candidates))
	copy(out, f.candidates)
	return out
}

// Anchor returns the base address once the field is locked.
func (f *Field) Anchor() (procmem.Address, bool) {
	if f.state != Locked {
		return 0, false
	}
	return f.candidates[0], true
}

// Reset discards every candidate.
func (f *Field) Reset() {
	f.state = Unseeded
	f.candidates = nil
}

// Narrow filters the field with a live value. A locked field is left alone;
// a sample that eliminates every candidate reseeds the field on the next call.
func (f *Field) Narrow(ctx context.Context, s *Scanner, value int64) (State, error) {
	if f.state == Locked {
		return Locked, nil
	}
	probe, err := ForKind(f.Kind, value)
	if err != nil {
		return f.state, err
	}

	next, err := s.Narrow(ctx, probe, f.candidates)
	if err != nil {
		return f.state, err
	}

	switch len(next) {
	case 0:
		f.Reset()
	case 1:
		f.candidates = next
		f.state = Locked
	default:
		f.candidates = next
		f.state = Narrowing
	}
	return f.state, nil
}
