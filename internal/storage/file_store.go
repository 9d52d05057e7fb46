package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/summary"
)

// FileStore keeps analyses in memory and mirrors them to a JSON file.
type FileStore struct {
	filePath string
	ttl      time.Duration
	items    map[string]Record
	mu       sync.RWMutex
	now      func() time.Time
}

func NewFileStore(filePath string, ttl time.Duration) *FileStore {
	return &FileStore{
		filePath: filePath,
		ttl:      ttl,
		items:    make(map[string]Record),
		now:      time.Now,
	}
}

// OpenFileStore creates a store and loads its file when it exists.
func OpenFileStore(filePath string, ttl time.Duration) (*FileStore, error) {
	s := NewFileStore(filePath, ttl)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the file, skipping expired records. A missing or empty file
// leaves the store empty.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read analysis store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var items []Record
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to unmarshal analysis store: %w", err)
	}

	now := s.now()
	for _, item := range items {
		if s.fresh(item, now) {
			s.items[item.Hash] = item
		}
	}
	return nil
}

// Save writes every record to the file.
func (s *FileStore) Save() error {
	s.mu.RLock()
	items := make([]Record, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal analysis store: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write analysis store: %w", err)
	}
	return nil
}

func (s *FileStore) fresh(item Record, now time.Time) bool {
	return s.ttl <= 0 || item.CreatedAt.After(now.Add(-s.ttl))
}

// Get returns the stored analysis of link and counts the use.
func (s *FileStore) Get(_ context.Context, link string) (*summary.Analysis, bool, error) {
	hash := HashLink(link)

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[hash]
	now := s.now()
	if !ok || !s.fresh(item, now) {
		return nil, false, nil
	}
	item.UseCount++
	item.LastUsedAt = now
	s.items[hash] = item

	analysis := item.Analysis
	return &analysis, true, nil
}

// Put stores the analysis of article and saves the file.
func (s *FileStore) Put(_ context.Context, article news.Article, analysis *summary.Analysis) error {
	if analysis == nil {
		return nil
	}

	s.mu.Lock()
	rec := newRecord(article, analysis, s.now())
	if prev, ok := s.items[rec.Hash]; ok {
		rec.UseCount = prev.UseCount + 1
	}
	s.items[rec.Hash] = rec
	s.mu.Unlock()

	return s.Save()
}

// Cleanup drops expired records and returns how many were removed.
func (s *FileStore) Cleanup(_ context.Context) (int64, error) {
	s.mu.Lock()
	now := s.now()
	var removed int64
	for hash, item := range s.items {
		if !s.fresh(item, now) {
			delete(s.items, hash)
			removed++
		}
	}
	s.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	return removed, s.Save()
}

func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close flushes the records to disk.
func (s *FileStore) Close() error {
	return s.Save()
}
