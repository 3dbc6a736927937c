package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"solagent/internal/storage"
)

// DefaultCapacity is how many records stay in memory.
const DefaultCapacity = 512

// HistoryRepository appends records to executions.log. Records are held
// oldest first and trimmed from the front once capacity is exceeded.
type HistoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	capacity int
	records  []storage.Record
}

var _ storage.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository opens (or creates) executions.log under dataDir and
// restores its newest DefaultCapacity records.
func NewHistoryRepository(dataDir string) (*HistoryRepository, error) {
	return newHistoryRepository(dataDir, DefaultCapacity)
}

func newHistoryRepository(dataDir string, capacity int) (*HistoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	repo := &HistoryRepository{dataFile: filepath.Join(dataDir, "executions.log"), capacity: capacity}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *HistoryRepository) Save(_ context.Context, record storage.Record) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("append history log: %w", err)
	}
	r.records = r.keep(append(r.records, record))
	return nil
}

// keep drops the oldest records beyond capacity. The backing array is
// compacted once it has grown to twice the capacity.
func (r *HistoryRepository) keep(records []storage.Record) []storage.Record {
	if len(records) <= r.capacity {
		return records
	}
	records = records[len(records)-r.capacity:]
	if cap(records) > 2*r.capacity {
		records = append(make([]storage.Record, 0, 2*r.capacity), records...)
	}
	return records
}

func (r *HistoryRepository) ListLatest(_ context.Context, limit int) ([]storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	limit = min(limit, len(r.records))
	out := make([]storage.Record, 0, limit)
	for i := len(r.records) - 1; len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

func (r *HistoryRepository) Latest(_ context.Context, task string) (storage.Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Task == task {
			return r.records[i], true, nil
		}
	}
	return storage.Record{}, false, nil
}

// load reads the log front to back. Lines that fail to decode are skipped.
func (r *HistoryRepository) load() error {
	file, err := os.OpenFile(r.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("read history log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []storage.Record
	for scanner.Scan() {
		var record storage.Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = r.keep(append(restored, record))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parse history log: %w", err)
	}
	r.records = restored
	return nil
}
