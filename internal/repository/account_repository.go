package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/face-signup/internal/retry"
)

// Event names written to enrollment_events.
const (
	EventSessionOpened  = "session_opened"
	EventPhotoConfirmed = "photo_confirmed"
	EventCaptureFailed  = "capture_failed"
	EventSaveFailed     = "save_failed"
	EventCommitted      = "committed"
	EventCancelled      = "cancelled"
	EventRolledBack     = "rolled_back"
	EventRollbackFailed = "rollback_failed"
	EventHandleOrphaned = "handle_orphaned"
)

// Account is a signed-up user together with the face registration it owns.
type Account struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"column:username;uniqueIndex;size:64"`
	PasswordHash string    `gorm:"column:password_hash;size:72"`
	FaceHandle   string    `gorm:"column:face_handle;size:64"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Account) TableName() string {
	return "accounts"
}

// EnrollmentEvent is an audit row for one sign-up outcome.
type EnrollmentEvent struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"column:session_id;index;size:64"`
	Username  string    `gorm:"column:username;size:64"`
	Event     string    `gorm:"column:event;index;size:32"`
	Handle    string    `gorm:"column:handle;size:64"`
	Message   string    `gorm:"column:message;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (EnrollmentEvent) TableName() string {
	return "enrollment_events"
}

// EventAggregation holds event counts keyed by event name.
type EventAggregation struct {
	Counts map[string]int64
}

// AccountRepository provides persistence for accounts and enrollment events.
type AccountRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewAccountRepository creates a new repository instance.
func NewAccountRepository(db *gorm.DB, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger.Named("account_repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AccountRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Account{}, &EnrollmentEvent{})
}

// CreateAccount inserts an account unless the username is taken. It reports
// whether a row was created.
func (r *AccountRepository) CreateAccount(ctx context.Context, username, passwordHash, faceHandle string) (bool, error) {
	account := &Account{
		Username:     username,
		PasswordHash: passwordHash,
		FaceHandle:   faceHandle,
	}
	var created bool
	err := r.executeWithRetry(ctx, "repository.create_account", "", func() error {
		res := createAccountQuery(r.db.WithContext(ctx), account)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1
		return nil
	})
	return created, err
}

// RecordEvent appends an audit event.
func (r *AccountRepository) RecordEvent(ctx context.Context, event *EnrollmentEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.record_event", event.SessionID, func() error {
		return r.db.WithContext(ctx).Create(event).Error
	})
}

// AggregateEvents counts audit events per event name.
func (r *AccountRepository) AggregateEvents(ctx context.Context) (*EventAggregation, error) {
	var rows []struct {
		Event string
		Total int64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_events", "", func() error {
		return r.db.WithContext(ctx).
			Model(&EnrollmentEvent{}).
			Select("event, COUNT(*) AS total").
			Group("event").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &EventAggregation{Counts: make(map[string]int64, len(rows))}
	for _, row := range rows {
		agg.Counts[row.Event] = row.Total
	}
	return agg, nil
}

func (r *AccountRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	return retry.Do(ctx, r.logger, r.policy, operation, sessionID, fn)
}

func createAccountQuery(tx *gorm.DB, account *Account) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoNothing: true,
	}).Create(account)
}
