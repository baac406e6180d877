package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// JSONStorage implements the Storage interface using a single JSON file.
// It keeps an in-memory copy that is reloaded when the file changes on disk.
type JSONStorage struct {
	filePath     string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Violations  []*models.Violation `json:"violations"`
	LastUpdated time.Time           `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	cacheTTL := 5 * time.Minute
	if config.CacheTTL != "" {
		if duration, err := time.ParseDuration(config.CacheTTL); err == nil {
			cacheTTL = duration
		}
	}

	storage := &JSONStorage{
		filePath: config.Path,
		cacheTTL: cacheTTL,
	}

	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		emptyData := &JSONData{
			Violations:  []*models.Violation{},
			LastUpdated: time.Now(),
		}

		return j.saveData(emptyData)
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Violations == nil {
		data.Violations = []*models.Violation{}
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to the JSON file. Callers hold the write lock.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(j.filePath, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// RecordViolation appends v and rewrites the file
func (j *JSONStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid violation: %w", err)
	}
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, existing := range j.data.Violations {
		if existing.ID == v.ID {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, v.ID)
		}
	}

	vCopy := *v
	j.data.Violations = append(j.data.Violations, &vCopy)
	return j.saveData(j.data)
}

// GetViolation retrieves a violation by its ID
func (j *JSONStorage) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, v := range j.data.Violations {
		if v.ID == id {
			vCopy := *v
			return &vCopy, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Violations returns matching violations, newest first
func (j *JSONStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	matched, _ := selectViolations(j.data.Violations, filter)
	return matched, nil
}

// CountViolations counts matching violations
func (j *JSONStorage) CountViolations(ctx context.Context, filter models.ViolationFilter) (int, error) {
	if err := j.loadData(); err != nil {
		return 0, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	count := 0
	for _, v := range j.data.Violations {
		if filter.Matches(v) {
			count++
		}
	}
	return count, nil
}

// PurgeViolations removes violations older than before. The file is only
// rewritten when something was removed.
func (j *JSONStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	if err := j.loadData(); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	kept := make([]*models.Violation, 0, len(j.data.Violations))
	for _, v := range j.data.Violations {
		if !v.OccurredAt.Before(before) {
			kept = append(kept, v)
		}
	}

	removed := int64(len(j.data.Violations) - len(kept))
	if removed == 0 {
		return 0, nil
	}

	j.data.Violations = kept
	if err := j.saveData(j.data); err != nil {
		return 0, err
	}
	return removed, nil
}

// Ping checks that the backing file is still readable
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

// Close closes the storage connection and cleans up resources
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Clear cache
	j.data = nil
	j.cacheExpiry = time.Time{}

	return nil
}
