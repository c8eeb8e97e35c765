package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory ledger with the same semantics as the postgres
// store: half-open windows, query-time sums, concurrent appends. Used by
// tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	clone := *rec
	s.records = append(s.records, &clone)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.records {
		if s.match(r, tenantID, from, to) {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SumCost(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, r := range s.records {
		if s.match(r, tenantID, from, to) {
			total = total.Add(r.CostUSD)
		}
	}
	return total, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, tenantID string, from, to time.Time, by GroupBy) ([]Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]*Bucket)
	for _, r := range s.records {
		if !s.match(r, tenantID, from, to) {
			continue
		}
		var key string
		switch by {
		case GroupByDay:
			key = r.CreatedAt.UTC().Format("2006-01-02")
		case GroupByModel:
			key = r.Model
		case GroupByProvider:
			key = r.Provider
		}
		b, ok := sums[key]
		if !ok {
			b = &Bucket{Key: key}
			sums[key] = b
		}
		b.Requests++
		b.TotalTokens += r.TotalTokens
		b.CostUSD = b.CostUSD.Add(r.CostUSD)
	}

	buckets := make([]Bucket, 0, len(sums))
	for _, b := range sums {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets, nil
}

func (s *MemoryStore) match(r *Record, tenantID string, from, to time.Time) bool {
	return r.TenantID == tenantID && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to)
}
