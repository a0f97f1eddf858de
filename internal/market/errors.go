package market

import (
	"errors"
	"strconv"
)

// ErrorKind classifies poll failures so callers branch on kind, not text.
type ErrorKind int

const (
	// KindTransientRead is a single inconsistent poll; retry the same item.
	KindTransientRead ErrorKind = iota + 1
	// KindDrift means the locked addresses were invalidated and a reset happened.
	KindDrift
	// KindFatal means the target process is gone.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientRead:
		return "transient_read"
	case KindDrift:
		return "drift"
	case KindFatal:
		return "fatal"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

var (
	// ErrTransientRead matches any PollError of KindTransientRead.
	ErrTransientRead = errors.New("transient read mismatch")
	// ErrDriftDetected matches any PollError of KindDrift.
	ErrDriftDetected = errors.New("drift detected")
	// ErrFatal matches any PollError of KindFatal.
	ErrFatal = errors.New("target process lost")
	// ErrNotCalibrated is returned by Poll before the layout is locked.
	ErrNotCalibrated = errors.New("reader not calibrated")
)

// PollError is the typed failure of a calibration or poll step.
type PollError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *PollError) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *PollError) Is(target error) bool {
	switch target {
	case ErrTransientRead:
		return e.Kind == KindTransientRead
	case ErrDriftDetected:
		return e.Kind == KindDrift
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

// IsRetriable reports whether the crawl may try again after this error.
func (e *PollError) IsRetriable() bool {
	return e.Kind != KindFatal
}

// RetriableError is implemented by errors that know whether a retry can help.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// KindOf extracts the kind of a PollError, or 0 for other errors.
func KindOf(err error) ErrorKind {
	var pe *PollError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func driftError(reason string, err error) *PollError {
	return &PollError{Kind: KindDrift, Reason: reason, Err: err}
}

func transientError(reason string) *PollError {
	return &PollError{Kind: KindTransientRead, Reason: reason}
}

func fatalError(err error) *PollError {
	return &PollError{Kind: KindFatal, Reason: "process handle lost", Err: err}
}
