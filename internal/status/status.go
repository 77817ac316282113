package status

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hikarum/hashwatch/internal/pool"
	"github.com/hikarum/hashwatch/internal/profit"
	"github.com/hikarum/hashwatch/internal/supervisor"
	"github.com/hikarum/hashwatch/internal/telemetry"
)

// Snapshot is one tick's worth of observable state. Emitted as a single
// JSON line so downstream tooling can tail the file.
type Snapshot struct {
	Time      time.Time             `json:"time"`
	RunID     string                `json:"run_id"`
	Tick      uint64                `json:"tick"`
	Miners    []supervisor.State    `json:"miners"`
	GPUs      []telemetry.GPUSample `json:"gpus,omitempty"`
	GPUsStale bool                  `json:"gpus_stale,omitempty"`
	Host      *telemetry.HostSample `json:"host,omitempty"`
	Pool      *pool.Stats           `json:"pool,omitempty"`
	PoolStale bool                  `json:"pool_stale,omitempty"`
	Report    *profit.Report        `json:"report,omitempty"`
}

// Config controls the status file location and rotation.
type Config struct {
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Sink persists snapshots.
type Sink interface {
	Write(snapshot Snapshot) error
	Close() error
}

// JSONLSink appends snapshots to a rotating append-only JSONL file.
type JSONLSink struct {
	logger *zap.Logger
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// NewJSONLSink creates a rotating status file sink.
func NewJSONLSink(logger *zap.Logger, config Config) *JSONLSink {
	return &JSONLSink{
		logger: logger,
		writer: &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		},
	}
}

// Write appends one snapshot as a JSON line.
func (s *JSONLSink) Write(snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal status snapshot: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

// Store keeps the most recent snapshot in memory for read-only consumers
// like the status API.
type Store struct {
	mu     sync.RWMutex
	latest *Snapshot
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{}
}

// Set records the latest snapshot.
func (s *Store) Set(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &snapshot
}

// Latest returns the most recent snapshot, or false if none was recorded.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	return *s.latest, true
}
