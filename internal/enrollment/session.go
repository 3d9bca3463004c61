package enrollment

import "time"

// State is the lifecycle position of a sign-up session.
type State string

const (
	StateIdle         State = "idle"
	StatePhotoPending State = "photo_pending"
	StateCommitted    State = "committed"
	StateCancelled    State = "cancelled"
)

// PhotoStatus mirrors the photo indicator shown next to the capture button.
type PhotoStatus string

const (
	PhotoNotCaptured PhotoStatus = "not_captured"
	PhotoCaptured    PhotoStatus = "captured"
)

// Session is the per-visit state of the sign-up screen.
//
// PendingEnrollmentID is set exactly when PhotoStatus is PhotoCaptured and no
// rollback happened since. The candidate password is never serialized.
type Session struct {
	ID                  string      `json:"id"`
	State               State       `json:"state"`
	PhotoStatus         PhotoStatus `json:"photo_status"`
	PendingEnrollmentID string      `json:"pending_enrollment_id,omitempty"`
	CandidateUsername   string      `json:"candidate_username,omitempty"`
	CandidatePassword   string      `json:"-"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// NewSession opens an idle session.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:          id,
		State:       StateIdle,
		PhotoStatus: PhotoNotCaptured,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the session has been committed or cancelled.
func (s *Session) Terminal() bool {
	return s.State == StateCommitted || s.State == StateCancelled
}

// HasPendingEnrollment reports whether a remote registration is held by the session.
func (s *Session) HasPendingEnrollment() bool {
	return s.PendingEnrollmentID != ""
}

// Validate checks the handle/photo invariant, e.g. after loading a session from storage.
func (s *Session) Validate() error {
	switch s.State {
	case StateIdle, StateCancelled:
		if s.HasPendingEnrollment() || s.PhotoStatus != PhotoNotCaptured {
			return ErrInconsistentSession
		}
	case StatePhotoPending, StateCommitted:
		if !s.HasPendingEnrollment() || s.PhotoStatus != PhotoCaptured {
			return ErrInconsistentSession
		}
	default:
		return ErrInconsistentSession
	}
	return nil
}

func (s *Session) confirmPhoto(handle string) {
	s.State = StatePhotoPending
	s.PhotoStatus = PhotoCaptured
	s.PendingEnrollmentID = handle
}

func (s *Session) resetPhoto(state State) {
	s.State = state
	s.PhotoStatus = PhotoNotCaptured
	s.PendingEnrollmentID = ""
}
