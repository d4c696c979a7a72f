package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"mentory-go/internal/mentory"
	"mentory-go/internal/model"
)

// Flusher turns a store's pending queue into durable records.
//
// The queue is snapshotted, one record is built per entry in queue order,
// and a single transaction inserts the records and deletes exactly the
// snapshotted entries. On failure nothing changes.
type Flusher struct {
	storeID uuid.UUID
	db      mentory.Database
	ids     mentory.IDGenerator
	logger  mentory.Logger
}

// Flush returns the number of records created. An empty queue returns 0.
// The transaction does not observe ctx cancellation once it has started.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	pending, err := f.db.ListPendingRecords(ctx, f.storeID)
	if err != nil {
		return 0, fmt.Errorf("reading queue: %w", err)
	}
	if len(pending) == 0 {
		f.logger.Debug("queue empty, nothing to flush", "store", f.storeID)
		return 0, nil
	}

	records := make([]*model.Record, 0, len(pending))
	for _, p := range pending {
		records = append(records, &model.Record{
			ID:             f.ids.New(),
			TicketID:       p.ID,
			RecordDate:     p.RecordDate,
			CreatedAt:      p.CreatedAt,
			AnalyzedResult: p.AnalyzedResult,
			Emotion:        p.Emotion,
		})
	}

	if err := f.db.MaterializePendingRecords(context.WithoutCancel(ctx), f.storeID, pending, records); err != nil {
		return 0, fmt.Errorf("materializing %d records: %w", len(records), err)
	}

	f.logger.Info("queue flushed", "store", f.storeID, "records", len(records))
	return len(records), nil
}
