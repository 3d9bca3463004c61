package enrollment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubCamera struct {
	data  string
	err   error
	calls int
}

func (s *stubCamera) Stream(ctx context.Context) (io.ReadCloser, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.data)), nil
}

type enrollCall struct {
	identifier string
	image      string
}

type stubFaces struct {
	handles    []string
	enrollErr  error
	removeErr  error
	enrolls    []enrollCall
	removed    []string
	removeCtxs []context.Context
}

func (s *stubFaces) Enroll(ctx context.Context, identifier string, image io.Reader) (string, error) {
	data, _ := io.ReadAll(image)
	s.enrolls = append(s.enrolls, enrollCall{identifier: identifier, image: string(data)})
	if s.enrollErr != nil {
		return "", s.enrollErr
	}
	if len(s.handles) == 0 {
		return "", nil
	}
	handle := s.handles[0]
	s.handles = s.handles[1:]
	return handle, nil
}

func (s *stubFaces) Remove(ctx context.Context, handle string) error {
	s.removed = append(s.removed, handle)
	s.removeCtxs = append(s.removeCtxs, ctx)
	return s.removeErr
}

type assignCall struct {
	identifier string
	secret     string
}

type stubCredentials struct {
	ok    bool
	err   error
	calls []assignCall
}

func (s *stubCredentials) Assign(ctx context.Context, identifier, secret string) (bool, error) {
	s.calls = append(s.calls, assignCall{identifier: identifier, secret: secret})
	return s.ok, s.err
}

func newTestWorkflow(faces *stubFaces, creds *stubCredentials, opts Options) *Workflow {
	return NewWorkflow(faces, creds, zap.NewNop(), opts)
}

func newIdleSession() *Session {
	return NewSession("sess-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func assertInvariant(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Validate(); err != nil {
		t.Fatalf("session invariant violated: %+v", s)
	}
}

func TestCaptureRejectsBlankCredentialsWithoutCapturing(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "pw1"},
		{"empty password", "alice", ""},
		{"both empty", "", ""},
		{"whitespace username", "   ", "pw1"},
		{"whitespace password", "alice", "\t\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			camera := &stubCamera{data: "photo"}
			faces := &stubFaces{handles: []string{"H1"}}
			wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
			s := newIdleSession()

			res := wf.RequestCapture(context.Background(), s, tc.username, tc.password, camera)

			if camera.calls != 0 {
				t.Fatalf("expected camera not to be used, got %d calls", camera.calls)
			}
			if len(faces.enrolls) != 0 {
				t.Fatalf("expected no enrollment, got %d", len(faces.enrolls))
			}
			if res.Kind != ResultValidationFailed || res.Signal != SignalCaptureFailed {
				t.Fatalf("unexpected result: %+v", res)
			}
			if res.Message != MsgCredentialsEmpty {
				t.Fatalf("expected %q, got %q", MsgCredentialsEmpty, res.Message)
			}
			var vErr *ValidationError
			if !errors.As(res.Err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", res.Err)
			}
			if s.State != StateIdle {
				t.Fatalf("expected idle, got %s", s.State)
			}
		})
	}
}

func TestCaptureAbortedLeavesStateUnchanged(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1"}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})

	for _, start := range []func() *Session{
		newIdleSession,
		func() *Session {
			s := newIdleSession()
			s.confirmPhoto("H0")
			return s
		},
	} {
		s := start()
		before := *s
		res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{err: ErrCaptureAborted})

		if res.Kind != ResultAborted || res.Signal != SignalNone {
			t.Fatalf("expected silent abort, got %+v", res)
		}
		if s.State != before.State || s.PendingEnrollmentID != before.PendingEnrollmentID || s.PhotoStatus != before.PhotoStatus {
			t.Fatalf("expected unchanged session, got %+v", s)
		}
	}
	if len(faces.enrolls) != 0 {
		t.Fatalf("expected no enrollment, got %d", len(faces.enrolls))
	}
}

func TestCaptureEnrollsAndSaveCommits(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1"}}
	creds := &stubCredentials{ok: true}
	wf := newTestWorkflow(faces, creds, Options{})
	s := newIdleSession()

	res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "jpeg-bytes"})
	if !res.OK() || res.Signal != SignalPhotoReady || res.Handle != "H1" {
		t.Fatalf("unexpected capture result: %+v", res)
	}
	if s.State != StatePhotoPending || s.PendingEnrollmentID != "H1" || s.PhotoStatus != PhotoCaptured {
		t.Fatalf("unexpected session after capture: %+v", s)
	}
	assertInvariant(t, s)
	if got := faces.enrolls[0]; got.identifier != "alice" || got.image != "jpeg-bytes" {
		t.Fatalf("unexpected enroll call: %+v", got)
	}

	completed := 0
	res = wf.RequestSave(context.Background(), s, "alice", "pw1")
	if res.Signal == SignalSaveCompleted {
		completed++
	}
	if completed != 1 || !res.OK() {
		t.Fatalf("expected one save completion, got %+v", res)
	}
	if len(creds.calls) != 1 || creds.calls[0] != (assignCall{"alice", "pw1"}) {
		t.Fatalf("unexpected assign calls: %+v", creds.calls)
	}
	if s.State != StateCommitted || s.PendingEnrollmentID != "H1" {
		t.Fatalf("expected committed session holding H1, got %+v", s)
	}
	if len(faces.removed) != 0 {
		t.Fatalf("commit must not roll back, removed %v", faces.removed)
	}
	assertInvariant(t, s)
}

func TestCaptureFailureCarriesServiceMessage(t *testing.T) {
	faces := &stubFaces{enrollErr: &EnrollmentError{Message: "No face detected", Err: errors.New("rpc error")}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
	s := newIdleSession()

	res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "x"})

	if res.Kind != ResultRemoteFailed || res.Signal != SignalCaptureFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Message != "No face detected" {
		t.Fatalf("expected service message, got %q", res.Message)
	}
	if s.State != StateIdle || s.HasPendingEnrollment() {
		t.Fatalf("expected idle session, got %+v", s)
	}
}

func TestCaptureFailureFallsBackToErrorMessage(t *testing.T) {
	faces := &stubFaces{enrollErr: errors.New("connection reset")}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
	s := newIdleSession()
	s.confirmPhoto("H0")

	res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "x"})

	if res.Message != "connection reset" {
		t.Fatalf("expected fallback message, got %q", res.Message)
	}
	var enrollErr *EnrollmentError
	if !errors.As(res.Err, &enrollErr) {
		t.Fatalf("expected EnrollmentError, got %T", res.Err)
	}
	if s.State != StateIdle || s.HasPendingEnrollment() {
		t.Fatalf("expected handle cleared, got %+v", s)
	}
	if res.Orphaned != "H0" {
		t.Fatalf("expected H0 reported as orphaned, got %q", res.Orphaned)
	}
	assertInvariant(t, s)
}

func TestCaptureCameraErrorIsCaptureFailure(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1"}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
	s := newIdleSession()

	res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{err: errors.New("camera unavailable")})

	if res.Signal != SignalCaptureFailed || res.Message != "camera unavailable" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(faces.enrolls) != 0 {
		t.Fatal("expected no enrollment")
	}
}

func TestCameraErrorKeepsConfirmedPhoto(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1", "H2"}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{RollbackOnRecapture: true})
	s := newIdleSession()
	ctx := context.Background()

	if res := wf.RequestCapture(ctx, s, "alice", "pw1", &stubCamera{data: "jpeg"}); res.Handle != "H1" {
		t.Fatalf("expected H1, got %+v", res)
	}

	res := wf.RequestCapture(ctx, s, "alice", "pw1", &stubCamera{err: errors.New("camera unavailable")})

	if res.Signal != SignalCaptureFailed || res.Message != "camera unavailable" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Rollback != nil || res.Orphaned != "" {
		t.Fatalf("expected no rollback or orphan, got %+v", res)
	}
	if s.State != StatePhotoPending || s.PendingEnrollmentID != "H1" {
		t.Fatalf("expected photo_pending with H1, got %s %q", s.State, s.PendingEnrollmentID)
	}
	if len(faces.removed) != 0 || len(faces.enrolls) != 1 {
		t.Fatalf("expected no remote calls after the first enroll, got enrolls=%v removed=%v", faces.enrolls, faces.removed)
	}
	assertInvariant(t, s)
}

func TestCaptureEmptyHandleIsFailure(t *testing.T) {
	wf := newTestWorkflow(&stubFaces{}, &stubCredentials{}, Options{})
	s := newIdleSession()

	res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "x"})

	if res.Signal != SignalCaptureFailed || !errors.Is(res.Err, ErrEmptyHandle) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if s.State != StateIdle {
		t.Fatalf("expected idle, got %s", s.State)
	}
}

func TestRecaptureOverwritesHandleWithoutRollback(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1", "H2"}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
	s := newIdleSession()

	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "a"})
	res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "b"})

	if s.PendingEnrollmentID != "H2" {
		t.Fatalf("expected H2, got %q", s.PendingEnrollmentID)
	}
	if res.Orphaned != "H1" || res.Rollback != nil {
		t.Fatalf("expected H1 orphaned without rollback, got %+v", res)
	}
	if len(faces.removed) != 0 {
		t.Fatalf("expected no remove calls, got %v", faces.removed)
	}
}

func TestRecaptureRollsBackWhenConfigured(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1", "H2"}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{RollbackOnRecapture: true})
	s := newIdleSession()

	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "a"})
	res := wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "b"})

	if len(faces.removed) != 1 || faces.removed[0] != "H1" {
		t.Fatalf("expected H1 removed, got %v", faces.removed)
	}
	if res.Rollback == nil || res.Rollback.Handle != "H1" || res.Orphaned != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if s.PendingEnrollmentID != "H2" {
		t.Fatalf("expected H2, got %q", s.PendingEnrollmentID)
	}
	assertInvariant(t, s)
}

func TestSaveWithoutPhotoIsRejected(t *testing.T) {
	creds := &stubCredentials{ok: true}
	wf := newTestWorkflow(&stubFaces{}, creds, Options{})
	s := newIdleSession()

	res := wf.RequestSave(context.Background(), s, "alice", "pw1")

	if res.Signal != SignalSaveFailed || res.Message != "Photo Required for Facial Recognition" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Kind != ResultValidationFailed {
		t.Fatalf("expected validation failure, got %s", res.Kind)
	}
	if len(creds.calls) != 0 {
		t.Fatalf("credential store must not be called, got %d calls", len(creds.calls))
	}
}

func TestSaveRejectedCredentialsKeepsPhoto(t *testing.T) {
	for _, creds := range []*stubCredentials{{ok: false}, {err: errors.New("db down")}} {
		faces := &stubFaces{handles: []string{"H1"}}
		wf := newTestWorkflow(faces, creds, Options{})
		s := newIdleSession()
		wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "x"})

		res := wf.RequestSave(context.Background(), s, "alice", "pw1")

		if res.Kind != ResultRemoteFailed || res.Signal != SignalSaveFailed || res.Message != MsgCredentialsEmpty {
			t.Fatalf("unexpected result: %+v", res)
		}
		var saveErr *SaveError
		if !errors.As(res.Err, &saveErr) {
			t.Fatalf("expected SaveError, got %T", res.Err)
		}
		if s.State != StatePhotoPending || s.PendingEnrollmentID != "H1" {
			t.Fatalf("expected photo kept, got %+v", s)
		}
	}
}

func TestCancelFromPhotoPendingRemovesLastHandle(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1", "H2"}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
	s := newIdleSession()
	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "a"})
	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "b"})

	res := wf.RequestCancel(context.Background(), s)

	if !res.OK() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(faces.removed) != 1 || faces.removed[0] != "H2" {
		t.Fatalf("expected exactly one remove of H2, got %v", faces.removed)
	}
	if s.State != StateCancelled || s.HasPendingEnrollment() {
		t.Fatalf("expected cancelled session without handle, got %+v", s)
	}
	assertInvariant(t, s)
}

func TestCancelFromIdleMakesNoRemoteCall(t *testing.T) {
	faces := &stubFaces{}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
	s := newIdleSession()

	res := wf.RequestCancel(context.Background(), s)

	if !res.OK() || res.Rollback != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(faces.removed) != 0 {
		t.Fatalf("expected no remove calls, got %v", faces.removed)
	}
	if s.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", s.State)
	}
}

func TestCancelRollbackFailureIsReportedNotEscalated(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1"}, removeErr: errors.New("not found")}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{})
	s := newIdleSession()
	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "a"})

	res := wf.RequestCancel(context.Background(), s)

	if !res.OK() || res.Signal != SignalNone {
		t.Fatalf("expected ok without signal, got %+v", res)
	}
	if res.Rollback == nil || res.Rollback.Err == nil {
		t.Fatalf("expected rollback failure on result, got %+v", res.Rollback)
	}
	if s.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", s.State)
	}
}

func TestCancelWaitsForDismissal(t *testing.T) {
	wf := newTestWorkflow(&stubFaces{}, &stubCredentials{}, Options{CancelDelay: 20 * time.Millisecond})
	start := time.Now()

	wf.RequestCancel(context.Background(), newIdleSession())

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected cancel to wait for dismissal, returned after %v", elapsed)
	}
}

func TestCancelStillRollsBackWhenContextEnds(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1"}}
	wf := newTestWorkflow(faces, &stubCredentials{}, Options{CancelDelay: time.Hour})
	s := newIdleSession()
	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wf.RequestCancel(ctx, s)

	if len(faces.removed) != 1 {
		t.Fatalf("expected rollback despite cancelled context, got %v", faces.removed)
	}
	if err := faces.removeCtxs[0].Err(); err != nil {
		t.Fatalf("expected rollback context to be live, got %v", err)
	}
}

func TestChangeUsernameRollsBackConfirmedPhoto(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1"}}
	wf := newTestWorkflow(faces, &stubCredentials{ok: true}, Options{})
	s := newIdleSession()
	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "a"})

	if res := wf.ChangeUsername(context.Background(), s, "alice"); res.Rollback != nil {
		t.Fatalf("unchanged username must not roll back, got %+v", res)
	}

	res := wf.ChangeUsername(context.Background(), s, "alicia")
	if res.Rollback == nil || res.Rollback.Handle != "H1" {
		t.Fatalf("expected rollback of H1, got %+v", res)
	}
	if s.State != StateIdle || s.PhotoStatus != PhotoNotCaptured || s.CandidateUsername != "alicia" {
		t.Fatalf("unexpected session: %+v", s)
	}
	assertInvariant(t, s)

	save := wf.RequestSave(context.Background(), s, "alicia", "pw1")
	if save.Message != MsgPhotoRequired {
		t.Fatalf("expected photo required after username change, got %+v", save)
	}
}

func TestTerminalSessionRejectsOperations(t *testing.T) {
	faces := &stubFaces{handles: []string{"H1"}}
	creds := &stubCredentials{ok: true}
	wf := newTestWorkflow(faces, creds, Options{})
	s := newIdleSession()
	wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "a"})
	wf.RequestSave(context.Background(), s, "alice", "pw1")

	for _, res := range []Result{
		wf.RequestCapture(context.Background(), s, "alice", "pw1", &stubCamera{data: "b"}),
		wf.RequestSave(context.Background(), s, "alice", "pw1"),
		wf.RequestCancel(context.Background(), s),
		wf.ChangeUsername(context.Background(), s, "bob"),
	} {
		if !errors.Is(res.Err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %+v", res)
		}
	}
	if len(faces.removed) != 0 || len(creds.calls) != 1 {
		t.Fatalf("terminal session must not reach capabilities: removed=%v assigns=%d", faces.removed, len(creds.calls))
	}
}

func TestSessionValidate(t *testing.T) {
	s := newIdleSession()
	assertInvariant(t, s)

	s.PendingEnrollmentID = "H1"
	if !errors.Is(s.Validate(), ErrInconsistentSession) {
		t.Fatal("idle session with a handle must be inconsistent")
	}

	s = newIdleSession()
	s.State = StatePhotoPending
	if !errors.Is(s.Validate(), ErrInconsistentSession) {
		t.Fatal("pending session without a handle must be inconsistent")
	}

	s.State = "bogus"
	if !errors.Is(s.Validate(), ErrInconsistentSession) {
		t.Fatal("unknown state must be inconsistent")
	}
}
