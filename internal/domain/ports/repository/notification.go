package repository

import (
	"context"
	"time"

	"club-membership-gateway/internal/domain/model"
)

// NotificationInbox is the durable log of gateway notifications.
type NotificationInbox interface {
	Insert(ctx context.Context, tx Tx, e *model.InboxEntry) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.InboxEntry, error)
	// ClaimDue leases received entries whose next attempt is due by moving next_attempt_at to
	// leaseUntil. The lease is committed with the statement; a worker that dies mid-processing
	// leaves the entry to be claimed again once the lease runs out.
	ClaimDue(ctx context.Context, tx Tx, now, leaseUntil time.Time, limit int) ([]*model.InboxEntry, error)
	// Claim leases a single entry. ok is false when the entry is finished or leased elsewhere.
	Claim(ctx context.Context, tx Tx, id string, now, leaseUntil time.Time) (e *model.InboxEntry, ok bool, err error)
	MarkProcessed(ctx context.Context, tx Tx, id string, at time.Time) error
	MarkAttemptFailed(ctx context.Context, tx Tx, id, lastErr string, nextAttempt time.Time, terminal bool) error
	ListByStatus(ctx context.Context, tx Tx, status model.InboxStatus, limit int) ([]*model.InboxEntry, error)
	// ResetForReplay puts a failed or rejected entry back into the received state.
	ResetForReplay(ctx context.Context, tx Tx, id string, now time.Time) (bool, error)
}
