package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// FileStore keeps everything in memory and, when a path is set, mirrors it
// to a JSON file after every write. It suits single-instance deployments and tests.
type FileStore struct {
	filePath string

	mu           sync.RWMutex
	publications map[string]PublicationRecord
	engagement   map[string]EngagementSample
	events       []Event
}

var _ Store = (*FileStore)(nil)

type fileSnapshot struct {
	Publications []PublicationRecord `json:"publications"`
	Engagement   []EngagementSample  `json:"engagement"`
	Events       []Event             `json:"events"`
}

// NewMemoryStore returns a FileStore that never touches disk.
func NewMemoryStore() *FileStore {
	return &FileStore{
		publications: make(map[string]PublicationRecord),
		engagement:   make(map[string]EngagementSample),
	}
}

// OpenFileStore loads filePath if it exists.
func OpenFileStore(filePath string) (*FileStore, error) {
	fs := NewMemoryStore()
	fs.filePath = filePath
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}
	for _, p := range snap.Publications {
		fs.publications[p.ID] = p
	}
	for _, e := range snap.Engagement {
		fs.engagement[e.DeliveryID] = e
	}
	fs.events = snap.Events
	return nil
}

// save must be called with mu held.
func (fs *FileStore) save() error {
	if fs.filePath == "" {
		return nil
	}
	snap := fileSnapshot{
		Publications: make([]PublicationRecord, 0, len(fs.publications)),
		Engagement:   make([]EngagementSample, 0, len(fs.engagement)),
		Events:       fs.events,
	}
	for _, p := range fs.publications {
		snap.Publications = append(snap.Publications, p)
	}
	for _, e := range fs.engagement {
		snap.Engagement = append(snap.Engagement, e)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save()
}

func (fs *FileStore) IsPublished(_ context.Context, id string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.publications[id]
	return ok, nil
}

func (fs *FileStore) Record(_ context.Context, rec PublicationRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.publications[rec.ID] = rec
	return fs.save()
}

func (fs *FileStore) CountPublishedSince(_ context.Context, since time.Time) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n := 0
	for _, p := range fs.publications {
		if !p.PublishedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (fs *FileStore) PublishedSince(_ context.Context, since time.Time) ([]PublicationRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []PublicationRecord
	for _, p := range fs.publications {
		if !p.PublishedAt.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

func (fs *FileStore) LastPublication(_ context.Context) (PublicationRecord, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var last PublicationRecord
	found := false
	for _, p := range fs.publications {
		if !found || p.PublishedAt.After(last.PublishedAt) {
			last, found = p, true
		}
	}
	return last, found, nil
}

func (fs *FileStore) UpsertEngagement(_ context.Context, e EngagementSample) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.engagement[e.DeliveryID] = e
	return fs.save()
}

func (fs *FileStore) EngagementSince(_ context.Context, since time.Time) ([]EngagementSample, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []EngagementSample
	for _, e := range fs.engagement {
		if !e.PostedAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.After(out[j].PostedAt) })
	return out, nil
}

func (fs *FileStore) TopPublications(_ context.Context, limit int) ([]RankedPublication, error) {
	if limit <= 0 {
		limit = 10
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []RankedPublication
	for _, p := range fs.publications {
		if p.DeliveryID == "" {
			continue
		}
		e, ok := fs.engagement[p.DeliveryID]
		if !ok {
			continue
		}
		out = append(out, RankedPublication{
			PublicationRecord: p,
			PostedAt:          e.PostedAt,
			Views:             e.Views,
			Forwards:          e.Forwards,
			Reactions:         e.Reactions,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Engagement() != out[j].Engagement() {
			return out[i].Engagement() > out[j].Engagement()
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (fs *FileStore) ReplaceEvents(_ context.Context, today time.Time, events []Event) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.events = fs.events[:0]
	for _, ev := range events {
		if dayKey(ev.Date) >= dayKey(today) {
			fs.events = append(fs.events, ev)
		}
	}
	return fs.save()
}

func (fs *FileStore) EventsOn(_ context.Context, day time.Time) ([]Event, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []Event
	for _, ev := range fs.events {
		if dayKey(ev.Date) == dayKey(day) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (fs *FileStore) UpcomingEvents(_ context.Context, from time.Time, limit int) ([]Event, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []Event
	for _, ev := range fs.events {
		if dayKey(ev.Date) >= dayKey(from) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ki, kj := dayKey(out[i].Date), dayKey(out[j].Date); ki != kj {
			return ki < kj
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (fs *FileStore) RetentionSweep(_ context.Context, olderThan time.Time) (SweepResult, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var res SweepResult
	for id, p := range fs.publications {
		if p.PublishedAt.Before(olderThan) {
			delete(fs.publications, id)
			res.Publications++
		}
	}
	for id, e := range fs.engagement {
		if e.PostedAt.Before(olderThan) {
			delete(fs.engagement, id)
			res.Engagement++
		}
	}
	kept := fs.events[:0]
	for _, ev := range fs.events {
		if dayKey(ev.Date) < dayKey(olderThan) {
			res.Events++
			continue
		}
		kept = append(kept, ev)
	}
	fs.events = kept
	return res, fs.save()
}
