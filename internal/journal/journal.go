// Package journal records completed trips for earnings history. The
// Postgres backend is optional; without a DSN the agent keeps an
// in-memory log for the session.
package journal

import (
	"context"
	"sync"

	"github.com/example/driver-agent/internal/models"
)

type Journal interface {
	Record(ctx context.Context, t *models.CompletedTrip) error
	Recent(ctx context.Context, driverID string, limit int) ([]models.CompletedTrip, error)
}

// MemoryJournal keeps trips in process memory, newest first.
type MemoryJournal struct {
	mu    sync.Mutex
	trips []models.CompletedTrip
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(ctx context.Context, t *models.CompletedTrip) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trips = append([]models.CompletedTrip{*t}, j.trips...)
	return nil
}

func (j *MemoryJournal) Recent(ctx context.Context, driverID string, limit int) ([]models.CompletedTrip, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.CompletedTrip, 0, limit)
	for _, t := range j.trips {
		if t.DriverID != driverID {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
