// Package history records one entry per generation run so past prompts,
// programs and artifacts can be listed and looked up by run id.
package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/pkg/filesystem"
	"github.com/doeshing/cadsmith/internal/ports"
)

// FileStore appends history records to a jsonl file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends one record.
func (f *FileStore) Save(_ context.Context, record domain.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), domain.DirectoryPermissions); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, domain.SecureFilePermissions)
	if err != nil {
		return err
	}
	defer file.Close()
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = file.Write(append(data, '\n'))
	return err
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Clear removes the history file.
func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Records returns entries newest first. search matches prompt or program,
// case-insensitively.
func (f *FileStore) Records(_ context.Context, limit int, search string) ([]domain.HistoryRecord, error) {
	all, err := f.load()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(search)
	var records []domain.HistoryRecord
	for i := len(all) - 1; i >= 0; i-- {
		rec := all[i]
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.Prompt), needle) &&
			!strings.Contains(strings.ToLower(rec.DSL), needle) {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Find looks a run up by id.
func (f *FileStore) Find(_ context.Context, runID string) (domain.HistoryRecord, bool, error) {
	all, err := f.load()
	if err != nil {
		return domain.HistoryRecord{}, false, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].RunID == runID {
			return all[i], true, nil
		}
	}
	return domain.HistoryRecord{}, false, nil
}

// PruneOlderThan rewrites the file without records older than days.
func (f *FileStore) PruneOlderThan(_ context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.loadLocked()
	if err != nil || len(all) == 0 {
		return err
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	var buf bytes.Buffer
	for _, rec := range all {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return filesystem.WriteAtomic(f.path, buf.Bytes(), domain.SecureFilePermissions)
}

func (f *FileStore) load() ([]domain.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

// loadLocked reads every record (best-effort: malformed lines are skipped).
func (f *FileStore) loadLocked() ([]domain.HistoryRecord, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	var records []domain.HistoryRecord
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec domain.HistoryRecord
		if err := json.Unmarshal(line, &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records, sc.Err()
}

var _ ports.HistoryRepository = (*FileStore)(nil)
