package store

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/polymolt/relay/internal/models"
)

// DefaultMarketCap bounds the per-market in-memory log. Oldest messages
// are evicted once a market exceeds it.
const DefaultMarketCap = 1000

// MemoryLog is an in-memory MessageLog with per-market count-based
// retention. Safe for concurrent use.
type MemoryLog struct {
	mu      sync.RWMutex
	markets map[string][]models.Message
	cap     int
	nextSeq uint64
}

// NewMemoryLog creates a MemoryLog. A marketCap <= 0 uses DefaultMarketCap.
func NewMemoryLog(marketCap int) *MemoryLog {
	if marketCap <= 0 {
		marketCap = DefaultMarketCap
	}
	return &MemoryLog{
		markets: make(map[string][]models.Message),
		cap:     marketCap,
	}
}

// Append stores a message, evicting the oldest entry for the market when
// the retention cap is reached.
func (l *MemoryLog) Append(_ context.Context, msg *models.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	l.nextSeq++
	msg.Seq = l.nextSeq

	log := l.markets[msg.MarketID]
	if len(log) >= l.cap {
		log = log[1:]
	}
	l.markets[msg.MarketID] = append(log, *msg)
	return nil
}

// Tail returns the most recent limit messages, oldest first.
func (l *MemoryLog) Tail(_ context.Context, marketID string, limit int) ([]models.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	log := l.markets[marketID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]models.Message, len(log))
	copy(out, log)
	return out, nil
}

// Recent returns up to limit messages, most recent first.
func (l *MemoryLog) Recent(_ context.Context, marketID string, limit int) ([]models.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	log := l.markets[marketID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]models.Message, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		out = append(out, log[i])
	}
	return out, nil
}
