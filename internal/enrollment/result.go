package enrollment

// ResultKind classifies the outcome of a workflow operation.
type ResultKind int

const (
	ResultOK ResultKind = iota
	// ResultAborted means the user produced no photo; nothing changed.
	ResultAborted
	ResultValidationFailed
	ResultRemoteFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultAborted:
		return "aborted"
	case ResultValidationFailed:
		return "validation_failed"
	case ResultRemoteFailed:
		return "remote_failed"
	default:
		return "unknown"
	}
}

// Signal is what the screen should react to.
type Signal string

const (
	SignalNone          Signal = ""
	SignalPhotoReady    Signal = "photo_ready"
	SignalCaptureFailed Signal = "capture_failed"
	SignalSaveFailed    Signal = "save_failed"
	SignalSaveCompleted Signal = "save_completed"
)

// Rollback describes a compensating remove call made during an operation.
type Rollback struct {
	Handle string
	Err    error
}

// Result is returned by every workflow operation.
type Result struct {
	Kind    ResultKind
	Signal  Signal
	Message string
	Err     error

	// Handle is the enrollment handle confirmed or committed by the operation.
	Handle string
	// Rollback is set when the operation removed a remote registration.
	Rollback *Rollback
	// Orphaned is a handle that was dropped without being removed remotely.
	Orphaned string
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Kind == ResultOK }
