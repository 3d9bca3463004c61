// Package enrollment drives the sign-up screen: photo capture, face
// enrollment with rollback, and credential assignment.
package enrollment

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PhotoCapture produces the photo to enroll. It returns ErrCaptureAborted when
// the user backed out without taking one.
type PhotoCapture interface {
	Stream(ctx context.Context) (io.ReadCloser, error)
}

// FaceEnrollmentService registers faces with the remote recognition service.
type FaceEnrollmentService interface {
	Enroll(ctx context.Context, identifier string, image io.Reader) (string, error)
	Remove(ctx context.Context, handle string) error
}

// CredentialStore assigns a password to a username. It returns false when the
// pair is rejected.
type CredentialStore interface {
	Assign(ctx context.Context, identifier, secret string) (bool, error)
}

// Options tunes the workflow.
type Options struct {
	// CancelDelay is how long cancel waits for the screen dismissal before rolling back.
	CancelDelay time.Duration
	// RollbackOnRecapture removes the previous registration before enrolling a new photo.
	// When false the previous handle is dropped and reported as orphaned.
	RollbackOnRecapture bool
}

// DefaultOptions matches the dismissal animation of the sign-up screen.
var DefaultOptions = Options{CancelDelay: time.Second}

// Workflow runs sign-up operations against a Session. It keeps no state of its
// own; callers must not run two operations on the same session concurrently.
type Workflow struct {
	faces       FaceEnrollmentService
	credentials CredentialStore
	logger      *zap.Logger
	opts        Options
	now         func() time.Time
}

// NewWorkflow builds a workflow over the given capabilities.
func NewWorkflow(faces FaceEnrollmentService, credentials CredentialStore, logger *zap.Logger, opts Options) *Workflow {
	return &Workflow{
		faces:       faces,
		credentials: credentials,
		logger:      logger.Named("enrollment_workflow"),
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RequestCapture validates the entries, takes a photo and enrolls it under username.
func (w *Workflow) RequestCapture(ctx context.Context, s *Session, username, password string, camera PhotoCapture) Result {
	if s.Terminal() {
		return closedResult()
	}
	s.CandidateUsername = username
	s.CandidatePassword = password

	if isBlank(username) || isBlank(password) {
		err := &ValidationError{Message: MsgCredentialsEmpty}
		return Result{Kind: ResultValidationFailed, Signal: SignalCaptureFailed, Message: err.Message, Err: err}
	}

	stream, err := camera.Stream(ctx)
	if errors.Is(err, ErrCaptureAborted) {
		return Result{Kind: ResultAborted}
	}
	if err != nil {
		// No photo was produced, so a previously confirmed one still stands.
		return w.cameraFailed(s, err)
	}
	defer stream.Close()

	var prior Result
	if s.State == StatePhotoPending {
		if w.opts.RollbackOnRecapture {
			prior.Rollback = w.rollback(ctx, s)
		} else {
			prior.Orphaned = s.PendingEnrollmentID
			w.logger.Warn("previous enrollment dropped without rollback",
				zap.String("session_id", s.ID), zap.String("handle", prior.Orphaned))
		}
	}

	handle, err := w.faces.Enroll(ctx, username, stream)
	if err == nil && handle == "" {
		err = ErrEmptyHandle
	}
	if err != nil {
		res := w.captureFailed(s, err)
		res.Rollback, res.Orphaned = prior.Rollback, prior.Orphaned
		return res
	}

	s.confirmPhoto(handle)
	s.UpdatedAt = w.now()
	return Result{
		Kind:     ResultOK,
		Signal:   SignalPhotoReady,
		Handle:   handle,
		Rollback: prior.Rollback,
		Orphaned: prior.Orphaned,
	}
}

// RequestSave assigns the credentials once a photo has been confirmed. On
// success the pending registration is kept: it now belongs to the account.
func (w *Workflow) RequestSave(ctx context.Context, s *Session, username, password string) Result {
	if s.Terminal() {
		return closedResult()
	}
	s.CandidateUsername = username
	s.CandidatePassword = password

	if s.State != StatePhotoPending {
		err := &SaveError{Message: MsgPhotoRequired}
		return Result{Kind: ResultValidationFailed, Signal: SignalSaveFailed, Message: err.Message, Err: err}
	}

	ok, err := w.credentials.Assign(ctx, username, password)
	if err != nil {
		w.logger.Error("credential assignment failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	if err != nil || !ok {
		saveErr := &SaveError{Message: MsgCredentialsEmpty, Err: err}
		return Result{Kind: ResultRemoteFailed, Signal: SignalSaveFailed, Message: saveErr.Message, Err: saveErr}
	}

	s.State = StateCommitted
	s.UpdatedAt = w.now()
	return Result{Kind: ResultOK, Signal: SignalSaveCompleted, Handle: s.PendingEnrollmentID}
}

// RequestCancel waits for the screen to go away, rolls back any pending
// registration and closes the session. It does not interrupt calls already in flight.
func (w *Workflow) RequestCancel(ctx context.Context, s *Session) Result {
	if s.Terminal() {
		return closedResult()
	}

	if err := w.waitForDismissal(ctx); err != nil {
		// The session is being discarded either way, so the rollback must still run.
		ctx = context.WithoutCancel(ctx)
	}

	var res Result
	if s.State == StatePhotoPending && s.HasPendingEnrollment() {
		res.Rollback = w.rollback(ctx, s)
	}
	s.resetPhoto(StateCancelled)
	s.UpdatedAt = w.now()
	res.Kind = ResultOK
	return res
}

// ChangeUsername records an edit of the username entry. A confirmed photo was
// enrolled under the old name, so it is rolled back and must be retaken.
func (w *Workflow) ChangeUsername(ctx context.Context, s *Session, username string) Result {
	if s.Terminal() {
		return closedResult()
	}
	if username == s.CandidateUsername {
		return Result{Kind: ResultOK}
	}
	s.CandidateUsername = username

	var res Result
	if s.State == StatePhotoPending {
		res.Rollback = w.rollback(ctx, s)
		s.resetPhoto(StateIdle)
	}
	s.UpdatedAt = w.now()
	res.Kind = ResultOK
	return res
}

func (w *Workflow) cameraFailed(s *Session, err error) Result {
	w.logger.Info("photo unavailable", zap.String("session_id", s.ID), zap.Error(err))
	enrollErr := &EnrollmentError{Message: err.Error(), Err: err}
	return Result{Kind: ResultRemoteFailed, Signal: SignalCaptureFailed, Message: enrollErr.Message, Err: enrollErr}
}

func (w *Workflow) captureFailed(s *Session, err error) Result {
	var enrollErr *EnrollmentError
	if !errors.As(err, &enrollErr) || enrollErr.Message == "" {
		enrollErr = &EnrollmentError{Message: err.Error(), Err: err}
	}
	w.logger.Info("photo capture failed", zap.String("session_id", s.ID), zap.Error(err))

	s.resetPhoto(StateIdle)
	s.UpdatedAt = w.now()
	return Result{Kind: ResultRemoteFailed, Signal: SignalCaptureFailed, Message: enrollErr.Message, Err: enrollErr}
}

// rollback removes the session's pending registration. Failures are logged and
// reported on the returned Rollback; the handle is released either way.
func (w *Workflow) rollback(ctx context.Context, s *Session) *Rollback {
	rb := &Rollback{Handle: s.PendingEnrollmentID}
	if err := w.faces.Remove(ctx, rb.Handle); err != nil {
		rb.Err = err
		w.logger.Warn("enrollment rollback failed",
			zap.String("session_id", s.ID), zap.String("handle", rb.Handle), zap.Error(err))
	}
	s.PendingEnrollmentID = ""
	return rb
}

func (w *Workflow) waitForDismissal(ctx context.Context) error {
	if w.opts.CancelDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(w.opts.CancelDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func closedResult() Result {
	return Result{Kind: ResultValidationFailed, Message: ErrSessionClosed.Error(), Err: ErrSessionClosed}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
