package storage

import (
	"context"

	"rangepilot/internal/model"
)

// Storage defines a sink for rebalance cycle records.
type Storage interface {
	PutCycleRecords(ctx context.Context, records []model.CycleRecord) error
}
