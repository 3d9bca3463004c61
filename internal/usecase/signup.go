package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/face-signup/internal/enrollment"
	"github.com/example/face-signup/internal/logging"
	"github.com/example/face-signup/internal/repository"
)

// SessionStore persists sign-up sessions between requests.
type SessionStore interface {
	Save(ctx context.Context, session *enrollment.Session) error
	Load(ctx context.Context, id string) (*enrollment.Session, error)
	Delete(ctx context.Context, id string) error
}

// AccountRepository defines the persistence operations needed by the use case.
type AccountRepository interface {
	CreateAccount(ctx context.Context, username, passwordHash, faceHandle string) (bool, error)
	RecordEvent(ctx context.Context, event *repository.EnrollmentEvent) error
	AggregateEvents(ctx context.Context) (*repository.EventAggregation, error)
}

// Options configures the use case.
type Options struct {
	Workflow   enrollment.Options
	BcryptCost int
}

// DefaultOptions are used in production.
var DefaultOptions = Options{
	Workflow:   enrollment.DefaultOptions,
	BcryptCost: bcrypt.DefaultCost,
}

// Outcome is the workflow result together with the session it left behind.
type Outcome struct {
	Result  enrollment.Result
	Session *enrollment.Session
}

// SignupUseCase runs workflow operations against stored sessions.
type SignupUseCase struct {
	sessions SessionStore
	accounts AccountRepository
	faces    enrollment.FaceEnrollmentService
	logger   *zap.Logger
	opts     Options
	newID    func() string
	now      func() time.Time
}

// NewSignupUseCase constructs a new use case instance.
func NewSignupUseCase(sessions SessionStore, accounts AccountRepository, faces enrollment.FaceEnrollmentService, logger *zap.Logger, opts Options) *SignupUseCase {
	return &SignupUseCase{
		sessions: sessions,
		accounts: accounts,
		faces:    faces,
		logger:   logger.Named("signup_usecase"),
		opts:     opts,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenSession starts a sign-up screen visit.
func (uc *SignupUseCase) OpenSession(ctx context.Context) (*enrollment.Session, error) {
	session := enrollment.NewSession(uc.newID(), uc.now())
	if err := uc.sessions.Save(ctx, session); err != nil {
		logging.WithOperation(uc.logger, "usecase.open_session", session.ID).Error("failed to store session", zap.Error(err))
		return nil, err
	}
	uc.record(ctx, session, repository.EventSessionOpened, "", "")
	return session, nil
}

// Session returns the current state of a sign-up session.
func (uc *SignupUseCase) Session(ctx context.Context, id string) (*enrollment.Session, error) {
	return uc.sessions.Load(ctx, id)
}

// Capture enrolls the photo supplied by camera.
func (uc *SignupUseCase) Capture(ctx context.Context, id, username, password string, camera enrollment.PhotoCapture) (*Outcome, error) {
	return uc.run(ctx, id, "usecase.capture", func(wf *enrollment.Workflow, s *enrollment.Session) enrollment.Result {
		return wf.RequestCapture(ctx, s, username, password, camera)
	})
}

// Save creates the account once a photo has been confirmed.
func (uc *SignupUseCase) Save(ctx context.Context, id, username, password string) (*Outcome, error) {
	return uc.run(ctx, id, "usecase.save", func(wf *enrollment.Workflow, s *enrollment.Session) enrollment.Result {
		return wf.RequestSave(ctx, s, username, password)
	})
}

// Cancel closes the session and rolls back any pending face registration.
func (uc *SignupUseCase) Cancel(ctx context.Context, id string) (*Outcome, error) {
	return uc.run(ctx, id, "usecase.cancel", func(wf *enrollment.Workflow, s *enrollment.Session) enrollment.Result {
		return wf.RequestCancel(ctx, s)
	})
}

// ChangeUsername records an edit of the username entry.
func (uc *SignupUseCase) ChangeUsername(ctx context.Context, id, username string) (*Outcome, error) {
	return uc.run(ctx, id, "usecase.change_username", func(wf *enrollment.Workflow, s *enrollment.Session) enrollment.Result {
		return wf.ChangeUsername(ctx, s, username)
	})
}

func (uc *SignupUseCase) run(ctx context.Context, id, operation string, op func(*enrollment.Workflow, *enrollment.Session) enrollment.Result) (*Outcome, error) {
	opLogger := logging.WithOperation(uc.logger, operation, id)

	session, err := uc.sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	creds := &accountCredentials{accounts: uc.accounts, session: session, cost: uc.opts.BcryptCost}
	wf := enrollment.NewWorkflow(uc.faces, creds, uc.logger, uc.opts.Workflow)
	res := op(wf, session)
	if errors.Is(res.Err, enrollment.ErrSessionClosed) {
		return &Outcome{Result: res, Session: session}, nil
	}

	if session.Terminal() {
		if err := uc.sessions.Delete(ctx, id); err != nil {
			opLogger.Warn("failed to discard closed session", zap.Error(err))
		}
	} else if res.Kind != enrollment.ResultAborted {
		if err := uc.sessions.Save(ctx, session); err != nil {
			opLogger.Error("failed to store session", zap.Error(err))
			uc.releaseUnsaved(ctx, session, res, opLogger)
			return nil, err
		}
	}

	uc.recordResult(ctx, session, operation, res)
	return &Outcome{Result: res, Session: session}, nil
}

// releaseUnsaved removes a registration made by an operation whose session
// could not be stored, since nothing would be left to roll it back.
func (uc *SignupUseCase) releaseUnsaved(ctx context.Context, session *enrollment.Session, res enrollment.Result, opLogger *zap.Logger) {
	if res.Handle == "" || session.State != enrollment.StatePhotoPending {
		return
	}
	if err := uc.faces.Remove(context.WithoutCancel(ctx), res.Handle); err != nil {
		opLogger.Error("failed to release unsaved enrollment", zap.String("handle", res.Handle), zap.Error(err))
		return
	}
	uc.record(ctx, session, repository.EventRolledBack, res.Handle, "session not stored")
}

func (uc *SignupUseCase) recordResult(ctx context.Context, session *enrollment.Session, operation string, res enrollment.Result) {
	if res.Orphaned != "" {
		uc.record(ctx, session, repository.EventHandleOrphaned, res.Orphaned, "")
	}
	if rb := res.Rollback; rb != nil {
		if rb.Err != nil {
			uc.record(ctx, session, repository.EventRollbackFailed, rb.Handle, rb.Err.Error())
		} else {
			uc.record(ctx, session, repository.EventRolledBack, rb.Handle, "")
		}
	}

	switch res.Signal {
	case enrollment.SignalPhotoReady:
		uc.record(ctx, session, repository.EventPhotoConfirmed, res.Handle, "")
	case enrollment.SignalCaptureFailed:
		uc.record(ctx, session, repository.EventCaptureFailed, "", res.Message)
	case enrollment.SignalSaveFailed:
		uc.record(ctx, session, repository.EventSaveFailed, "", res.Message)
	case enrollment.SignalSaveCompleted:
		uc.record(ctx, session, repository.EventCommitted, res.Handle, "")
	}

	if operation == "usecase.cancel" && session.State == enrollment.StateCancelled {
		uc.record(ctx, session, repository.EventCancelled, "", "")
	}
}

// record writes an audit event; failures are logged and otherwise ignored.
func (uc *SignupUseCase) record(ctx context.Context, session *enrollment.Session, event, handle, message string) {
	err := uc.accounts.RecordEvent(ctx, &repository.EnrollmentEvent{
		SessionID: session.ID,
		Username:  session.CandidateUsername,
		Event:     event,
		Handle:    handle,
		Message:   message,
		CreatedAt: uc.now(),
	})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.record_event", session.ID).Warn("failed to record event", zap.String("event", event), zap.Error(err))
	}
}
