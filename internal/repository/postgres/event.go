package postgres

import (
	"context"
	"fmt"

	"github.com/nkiryanov/creatorledger/internal/models"
)

type EventRepo struct {
	DB DBTX
}

const recordEvent = `-- name: RecordEvent
INSERT INTO processor_events (processor, event_id, event_type, received_at)
VALUES ($1, $2, $3, now())
ON CONFLICT DO NOTHING
`

func (r *EventRepo) RecordEvent(ctx context.Context, e models.ProcessorEvent) (bool, error) {
	tag, err := r.DB.Exec(ctx, recordEvent, e.Processor, e.EventID, e.EventType)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
