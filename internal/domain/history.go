package domain

import "time"

// HistoryRecord captures one generate or run invocation.
type HistoryRecord struct {
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
	Prompt       string    `json:"prompt"`
	Model        string    `json:"model"`
	Outcome      Outcome   `json:"outcome"`
	Attempts     int       `json:"attempts"`
	DSL          string    `json:"dsl"`
	ArtifactPath string    `json:"artifact_path"`
	Error        string    `json:"error,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// CacheEntry stores a program that passed validation for a prompt.
type CacheEntry struct {
	Key       string    `json:"key"`
	Prompt    string    `json:"prompt"`
	DSL       string    `json:"dsl"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the entry is older than ttl. A zero ttl never expires.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.CreatedAt) > ttl
}
