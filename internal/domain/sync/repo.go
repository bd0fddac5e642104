package sync

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrSourceBusy means another batch is already running for the source
	// system. One active batch per source keeps pagination progress linear.
	ErrSourceBusy = errors.New("a batch is already running for this source system")

	// ErrNotRunning means the batch is not in the running state.
	ErrNotRunning = errors.New("batch is not running")

	// ErrNotResumable means the batch is not in a state resume accepts.
	ErrNotResumable = errors.New("batch is not in a resumable state")
)

type BatchRepository interface {
	// Create inserts a new running batch. Returns ErrSourceBusy when a
	// running batch already exists for the same source system.
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// Update persists the batch's progress and finalization fields. It never
	// touches cancel_requested, so a cancel raised mid-page is not lost when
	// the page's progress is written.
	Update(ctx context.Context, b *Batch) error
	// Reopen moves a failed or cancelled batch back to running at its
	// preserved cursor, clearing the error and cancel flags. A batch still
	// marked running is accepted as-is: that is the crash-recovery path,
	// where the previous process died between pages and the row holds the
	// last durable cursor. Returns ErrNotResumable for completed batches and
	// ErrSourceBusy under the same single-active rule as Create.
	Reopen(ctx context.Context, id uuid.UUID) (*Batch, error)
	List(ctx context.Context, status, sourceSystem string, limit, offset int) ([]*Batch, int, error)
	// RequestCancel flags a running batch to stop at the next page boundary.
	RequestCancel(ctx context.Context, id uuid.UUID) error
}
