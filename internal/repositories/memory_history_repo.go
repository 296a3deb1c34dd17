package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/google/uuid"
)

// MemoryHistoryRepository keeps login history in process memory.
// Used for local development and tests; history is lost on restart.
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	attempts map[string][]models.LoginAttempt
}

// NewMemoryHistoryRepository creates an empty in-memory store
func NewMemoryHistoryRepository() *MemoryHistoryRepository {
	return &MemoryHistoryRepository{attempts: make(map[string][]models.LoginAttempt)}
}

// Latest returns a copy of the identity's most recent attempt. Among equal
// timestamps the last appended wins.
func (r *MemoryHistoryRepository) Latest(ctx context.Context, identity string) (*models.LoginAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.attempts[identity]
	idx := latestIndex(history)
	if idx < 0 {
		return nil, nil
	}

	latest := history[idx]
	return &latest, nil
}

// Append stores a copy of attempt
func (r *MemoryHistoryRepository) Append(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}

	attempt.Timestamp = models.NormalizeTimestamp(attempt.Timestamp)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[attempt.Identity] = append(r.attempts[attempt.Identity], *attempt)
	return nil
}

// DeleteExpired removes attempts older than before, except each identity's latest one
func (r *MemoryHistoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for identity, history := range r.attempts {
		keep := latestIndex(history)
		kept := history[:0]
		for i, a := range history {
			if i == keep || !a.Timestamp.Before(before) {
				kept = append(kept, a)
				continue
			}
			deleted++
		}
		r.attempts[identity] = kept
	}

	return deleted, nil
}

// Count returns the number of stored attempts for identity
func (r *MemoryHistoryRepository) Count(identity string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts[identity])
}

func latestIndex(history []models.LoginAttempt) int {
	idx := -1
	for i, a := range history {
		if idx < 0 || !a.Timestamp.Before(history[idx].Timestamp) {
			idx = i
		}
	}
	return idx
}
