package schedule

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

//go:embed data/seed.json
var seedJSON []byte

// MemoryStore keeps everything in process. Reports are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string][]Item
	reports []Report
	now     func() time.Time
}

func NewMemoryStore(items ...Item) *MemoryStore {
	s := &MemoryStore{items: make(map[string][]Item), now: time.Now}
	for _, it := range items {
		s.items[it.UserID] = append(s.items[it.UserID], it)
	}
	for user := range s.items {
		sortItems(s.items[user])
	}
	return s
}

// SeedItems returns the demo plan shipped with the binary, assigned to
// userID.
func SeedItems(userID string) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(seedJSON, &items); err != nil {
		return nil, fmt.Errorf("decode schedule seed: %w", err)
	}
	for i := range items {
		items[i].UserID = userID
		items[i].Active = true
	}
	return items, nil
}

func (s *MemoryStore) ActiveItems(_ context.Context, userID string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, it := range s.items[strings.TrimSpace(userID)] {
		if it.Active {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *MemoryStore) Item(_ context.Context, userID, itemID string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items[strings.TrimSpace(userID)] {
		if it.ID == strings.TrimSpace(itemID) {
			return it, nil
		}
	}
	return Item{}, ErrNotFound
}

func (s *MemoryStore) ReportsByDate(_ context.Context, userID, date string) ([]Report, error) {
	return s.filterReports(func(r Report) bool {
		return r.UserID == userID && r.ReportDate == date
	}), nil
}

func (s *MemoryStore) ReportsForItem(_ context.Context, userID, itemID, date string) ([]Report, error) {
	return s.filterReports(func(r Report) bool {
		return r.UserID == userID && r.ScheduleItemID == itemID && (date == "" || r.ReportDate == date)
	}), nil
}

func (s *MemoryStore) FindDuplicate(_ context.Context, userID, itemID, sessionID, turnID string) (Report, bool, error) {
	if sessionID == "" || turnID == "" {
		return Report{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reports {
		if r.UserID == userID && r.ScheduleItemID == itemID && r.SessionID == sessionID && r.ConversationTurnID == turnID {
			return r, true, nil
		}
	}
	return Report{}, false, nil
}

func (s *MemoryStore) SaveReport(_ context.Context, r Report) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = newReportID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.reports = append(s.reports, r)
	return r, nil
}

func (s *MemoryStore) filterReports(keep func(Report) bool) []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Report
	for _, r := range s.reports {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ReportedAt.Before(out[j].ReportedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		if a.WindowStart != b.WindowStart {
			return a.WindowStart < b.WindowStart
		}
		return a.ID < b.ID
	})
}
