// Package usage tracks LLM token consumption and persists it to a ledger
// file shared by every agent endpoint process.
//
// Each process appends only its own unflushed records to whatever is on disk,
// never rewriting or reordering existing entries, so the ledger only grows.
// Flushes across processes are serialized with a file lock; without it the
// read-merge-write cycle would race when two endpoints flush at once.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Record is one LLM call's cost. Records are append-only: once written to
// the ledger they are never mutated or deleted.
type Record struct {
	Agent     string    `json:"agent"`
	Tokens    int       `json:"tokens_used"`
	Iteration int       `json:"iteration,omitempty"` // refinement attempt number, when applicable
	Timestamp time.Time `json:"timestamp"`
}

// Tracker accumulates this process's records and flushes them to the shared
// ledger file. One tracker per endpoint process.
type Tracker struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	records []Record
	flushed int // how many of records have reached disk
}

// NewTracker creates a tracker writing to the ledger at path.
func NewTracker(path string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{path: path, logger: logger}
}

// Track records one LLM call for an agent.
func (t *Tracker) Track(agent string, tokens int) {
	t.TrackIteration(agent, tokens, 0)
}

// TrackIteration records one LLM call made inside a refinement attempt.
// Iteration 0 means "not part of a refinement loop" and is omitted from the
// serialized record.
func (t *Tracker) TrackIteration(agent string, tokens, iteration int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, Record{
		Agent:     agent,
		Tokens:    tokens,
		Iteration: iteration,
		Timestamp: time.Now().UTC(),
	})
}

// TotalTokens sums every token this tracker has recorded, flushed or not.
func (t *Tracker) TotalTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, r := range t.records {
		total += r.Tokens
	}
	return total
}

// Flush appends this tracker's unflushed records to the ledger file.
//
// The merge is read-modify-write under an exclusive file lock: read the
// current on-disk entries, append only the tail beyond the flushed count,
// write the whole document back atomically. Entries already on disk are
// carried through as raw bytes, so records written by other processes, or
// by future versions with extra fields, pass through untouched.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	tail := make([]Record, len(t.records)-t.flushed)
	copy(tail, t.records[t.flushed:])
	target := len(t.records)
	t.mu.Unlock()

	if len(tail) == 0 {
		return nil
	}

	lock := flock.New(t.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking ledger: %w", err)
	}
	defer lock.Unlock()

	doc, entries, err := readDocument(t.path)
	if err != nil {
		return err
	}

	for _, r := range tail {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling usage record: %w", err)
		}
		entries = append(entries, data)
	}

	if err := writeDocument(t.path, doc, entries); err != nil {
		return err
	}

	t.mu.Lock()
	if target > t.flushed {
		t.flushed = target
	}
	t.mu.Unlock()

	t.logger.Debug("flushed usage records",
		zap.Int("new", len(tail)), zap.Int("ledger_total", len(entries)))
	return nil
}

// readDocument loads the ledger, returning the top-level document (for
// unknown-field preservation) and the usage_log entries as raw messages.
// A missing file yields an empty document.
func readDocument(path string) (map[string]json.RawMessage, []json.RawMessage, error) {
	doc := map[string]json.RawMessage{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil, nil
		}
		return nil, nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(data) == 0 {
		return doc, nil, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing ledger: %w", err)
	}

	var entries []json.RawMessage
	if raw, ok := doc["usage_log"]; ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, nil, fmt.Errorf("parsing ledger usage_log: %w", err)
		}
	}
	return doc, entries, nil
}

// writeDocument writes the ledger atomically: temp file in the same
// directory, then rename over the target.
func writeDocument(path string, doc map[string]json.RawMessage, entries []json.RawMessage) error {
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling usage_log: %w", err)
	}
	doc["usage_log"] = entriesJSON

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

// ReadLedger parses every well-formed record in the ledger file. Entries
// with unknown extra fields decode fine; entries this version cannot decode
// at all are skipped rather than failing the read.
func ReadLedger(path string) ([]Record, error) {
	_, entries, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(entries))
	for _, raw := range entries {
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// Summary aggregates a ledger for reporting.
type Summary struct {
	Calls       int
	TotalTokens int
	ByAgent     map[string]int
}

// Summarize computes totals per agent.
func Summarize(records []Record) Summary {
	s := Summary{ByAgent: map[string]int{}}
	for _, r := range records {
		s.Calls++
		s.TotalTokens += r.Tokens
		s.ByAgent[r.Agent] += r.Tokens
	}
	return s
}

// Agents returns the agent names in a summary, sorted for stable output.
func (s Summary) Agents() []string {
	names := make([]string, 0, len(s.ByAgent))
	for name := range s.ByAgent {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
