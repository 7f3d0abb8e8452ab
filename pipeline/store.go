package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-scrape-policies/models"
)

// Snapshotter persists the full record collection.
type Snapshotter interface {
	Snapshot(records []models.Record) error
}

// RunLogger appends run summaries.
type RunLogger interface {
	AppendRunLog(entry models.RunLogEntry) error
}

// JSONStore owns every file the scraper writes: the record collection, the
// run log and downloaded assets. Each write replaces its target atomically.
type JSONStore struct {
	dir         string
	recordsPath string
	runLogPath  string
	assetsDir   string

	mu sync.Mutex
}

// NewJSONStore places records and run log under dir unless they are
// absolute paths. Assets go to dir/assetsDir.
func NewJSONStore(dir, recordsFile, runLogFile, assetsDir string) *JSONStore {
	return &JSONStore{
		dir:         dir,
		recordsPath: resolvePath(dir, recordsFile),
		runLogPath:  resolvePath(dir, runLogFile),
		assetsDir:   resolvePath(dir, assetsDir),
	}
}

// RecordsPath returns the record collection file.
func (s *JSONStore) RecordsPath() string { return s.recordsPath }

// RunLogPath returns the run log file.
func (s *JSONStore) RunLogPath() string { return s.runLogPath }

// Snapshot rewrites the record collection with records.
func (s *JSONStore) Snapshot(records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.recordsPath, data); err != nil {
		return fmt.Errorf("snapshot records: %w", err)
	}
	return nil
}

// LoadRunLog reads the run log; a missing file is an empty log.
func (s *JSONStore) LoadRunLog() ([]models.RunLogEntry, error) {
	data, err := os.ReadFile(s.runLogPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run log: %w", err)
	}
	var entries []models.RunLogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run log %s: %w", s.runLogPath, err)
	}
	return entries, nil
}

// AppendRunLog adds entry to the end of the run log.
func (s *JSONStore) AppendRunLog(entry models.RunLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.LoadRunLog()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}
	if err := writeFileAtomic(s.runLogPath, data); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	return nil
}

// SaveURLs writes urls as a JSON array to name, relative to the output
// directory unless absolute.
func (s *JSONStore) SaveURLs(name string, urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.MarshalIndent(urls, "", "  ")
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}
	if err := writeFileAtomic(s.URLsPath(name), data); err != nil {
		return fmt.Errorf("save urls: %w", err)
	}
	return nil
}

// URLsPath returns where SaveURLs writes name.
func (s *JSONStore) URLsPath(name string) string { return resolvePath(s.dir, name) }

// WriteAsset stores data as name inside the assets directory.
func (s *JSONStore) WriteAsset(name string, data []byte) (string, error) {
	path := filepath.Join(s.assetsDir, filepath.Base(name))
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

func resolvePath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
