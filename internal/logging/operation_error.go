package logging

import "fmt"

// OperationError is a failed Redis, Postgres or face-service call, labelled
// with the operation name (for example "sessionstore.save") and the sign-up
// session it was made for. Handlers turn it into a 5xx.
type OperationError struct {
	Operation string
	SessionID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session_id=%s): %v", e.Operation, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError labels err with the operation and session. A nil err
// stays nil.
func NewOperationError(operation, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Err: err}
}
