package enrollment

import "errors"

// Messages shown to the user.
const (
	MsgCredentialsEmpty = "Username / Password Empty"
	MsgPhotoRequired    = "Photo Required for Facial Recognition"
)

var (
	// ErrCaptureAborted is returned by a PhotoCapture when the user produced no photo.
	ErrCaptureAborted = errors.New("photo capture aborted")
	// ErrSessionClosed is returned for any operation on a committed or cancelled session.
	ErrSessionClosed = errors.New("sign-up session is closed")
	// ErrInconsistentSession means a stored session violates the handle/photo invariant.
	ErrInconsistentSession = errors.New("sign-up session state is inconsistent")
	// ErrEmptyHandle is reported when the face service accepts a photo but returns no handle.
	ErrEmptyHandle = errors.New("face service returned an empty enrollment handle")
)

// ValidationError reports missing username or password entries.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// EnrollmentError reports a rejected or failed face enrollment. Message is the
// text provided by the face service when there is one.
type EnrollmentError struct {
	Message string
	Err     error
}

func (e *EnrollmentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "face enrollment failed"
}

func (e *EnrollmentError) Unwrap() error { return e.Err }

// SaveError reports a rejected credential assignment or an unmet save precondition.
type SaveError struct {
	Message string
	Err     error
}

func (e *SaveError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SaveError) Unwrap() error { return e.Err }
