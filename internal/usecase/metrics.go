package usecase

import (
	"context"

	"github.com/example/face-signup/internal/repository"
)

// MetricsSummary represents aggregated sign-up outcomes.
type MetricsSummary struct {
	SessionsOpened   int64   `json:"sessions_opened"`
	PhotosConfirmed  int64   `json:"photos_confirmed"`
	CaptureFailures  int64   `json:"capture_failures"`
	SaveFailures     int64   `json:"save_failures"`
	AccountsCreated  int64   `json:"accounts_created"`
	Cancellations    int64   `json:"cancellations"`
	Rollbacks        int64   `json:"rollbacks"`
	RollbackFailures int64   `json:"rollback_failures"`
	OrphanedHandles  int64   `json:"orphaned_handles"`
	CompletionRate   float64 `json:"completion_rate"`
}

// GetMetricsSummary aggregates sign-up metrics from the audit log.
func (uc *SignupUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.accounts.AggregateEvents(ctx)
	if err != nil {
		return nil, err
	}

	counts := aggregation.Counts
	summary := &MetricsSummary{
		SessionsOpened:   counts[repository.EventSessionOpened],
		PhotosConfirmed:  counts[repository.EventPhotoConfirmed],
		CaptureFailures:  counts[repository.EventCaptureFailed],
		SaveFailures:     counts[repository.EventSaveFailed],
		AccountsCreated:  counts[repository.EventCommitted],
		Cancellations:    counts[repository.EventCancelled],
		Rollbacks:        counts[repository.EventRolledBack],
		RollbackFailures: counts[repository.EventRollbackFailed],
		OrphanedHandles:  counts[repository.EventHandleOrphaned],
	}

	if summary.SessionsOpened > 0 {
		summary.CompletionRate = float64(summary.AccountsCreated) / float64(summary.SessionsOpened)
	}

	return summary, nil
}
