package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/CompassSecurity/docleek/pkg/model"
)

// AuditLog is an append-only JSON lines file. Entries carry counts, never values.
type AuditLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
	now  func() time.Time
}

func OpenAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLog{path: path, f: f, now: time.Now}, nil
}

func (a *AuditLog) Path() string {
	return a.path
}

// Append writes and syncs one entry. A zero timestamp is set to now.
func (a *AuditLog) Append(e model.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = a.now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := a.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return a.f.Sync()
}

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}

// AuditFilter selects entries. Zero fields match everything.
type AuditFilter struct {
	Action model.AuditAction
	ScanID string
	Since  time.Time
	// FailuresOnly keeps unsuccessful operations
	FailuresOnly bool
}

func (f AuditFilter) match(e model.AuditLogEntry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ScanID != "" && e.ScanID != f.ScanID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return !f.FailuresOnly || !e.Success
}

// ReadAuditLog returns the entries of the log at path in file order.
func ReadAuditLog(path string, filter AuditFilter) ([]model.AuditLogEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []model.AuditLogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e model.AuditLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("audit log line %d: %w", n, err)
		}
		if filter.match(e) {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}

// AuditStats aggregates audit entries.
type AuditStats struct {
	Total    int                       `json:"total"`
	Failures int                       `json:"failures"`
	ByAction map[model.AuditAction]int `json:"by_action"`
	ByActor  map[string]int            `json:"by_actor"`
}

func SummarizeAudit(entries []model.AuditLogEntry) AuditStats {
	s := AuditStats{ByAction: map[model.AuditAction]int{}, ByActor: map[string]int{}}
	for _, e := range entries {
		s.Total++
		if !e.Success {
			s.Failures++
		}
		s.ByAction[e.Action]++
		s.ByActor[e.Actor]++
	}
	return s
}
