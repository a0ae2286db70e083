// Package feedback keeps the append-only ledger of reviewer verdicts. Every
// line is one JSON encoded model.ReviewFeedbackRecord.
package feedback

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/perimeterx/marshmallow"
	"github.com/rs/zerolog/log"
)

// maxLine bounds a single ledger line; context snippets are capped well below.
const maxLine = 1 << 20

var ErrMovedOn = errors.New("ledger grew since append, refusing to truncate")

// Ledger appends records to a JSONL file. Appends are serialized and synced
// before they return.
type Ledger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, model.Errorf(model.KindConfig, model.CodeInvalid, "ledger path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, format.DirUserOnly); err != nil {
			return nil, model.NewError(model.KindReviewTransaction, model.CodeLedgerFailed, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, format.FileUserReadWrite)
	if err != nil {
		return nil, model.NewError(model.KindReviewTransaction, model.CodeLedgerFailed, err)
	}
	return &Ledger{path: path, file: f}, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Append writes rec and returns an undo which truncates the file back to the
// length it had before. The undo refuses to run once another record followed.
func (l *Ledger) Append(rec model.ReviewFeedbackRecord) (func() error, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil, os.ErrClosed
	}

	info, err := l.file.Stat()
	if err != nil {
		return nil, err
	}
	before := info.Size()
	after := before + int64(len(line))

	if _, err := l.file.Write(line); err != nil {
		_ = l.file.Truncate(before)
		return nil, err
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Truncate(before)
		return nil, err
	}

	undo := func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.file == nil {
			return os.ErrClosed
		}
		info, err := l.file.Stat()
		if err != nil {
			return err
		}
		if info.Size() != after {
			return ErrMovedOn
		}
		if err := l.file.Truncate(before); err != nil {
			return err
		}
		return l.file.Sync()
	}
	return undo, nil
}

// Entry is a parsed ledger line. Extra holds fields this version does not
// know, written by a newer producer.
type Entry struct {
	Line   int
	Record model.ReviewFeedbackRecord
	Extra  map[string]any
	Raw    []byte
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	EntityTypes []model.EntityType
	Verdicts    []model.Verdict
}

func (f Filter) match(rec model.ReviewFeedbackRecord) bool {
	if len(f.EntityTypes) > 0 && !containsEntity(f.EntityTypes, rec.EntityType) {
		return false
	}
	if len(f.Verdicts) > 0 && !containsVerdict(f.Verdicts, rec.Verdict) {
		return false
	}
	return true
}

func containsEntity(list []model.EntityType, e model.EntityType) bool {
	for _, v := range list {
		if v == e {
			return true
		}
	}
	return false
}

func containsVerdict(list []model.Verdict, v model.Verdict) bool {
	for _, x := range list {
		if x.Normalize() == v.Normalize() {
			return true
		}
	}
	return false
}

// Read parses the ledger at path. Malformed lines are logged and skipped so a
// torn trailing write does not hide the records before it.
func Read(path string, filter Filter) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return Decode(f, filter)
}

func Decode(r io.Reader, filter Filter) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var entries []Entry
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		rec := model.ReviewFeedbackRecord{}
		extra, err := marshmallow.Unmarshal(line, &rec, marshmallow.WithExcludeKnownFieldsFromMap(true))
		if err != nil {
			log.Warn().Int("line", n).Err(err).Msg("Skipping malformed feedback record")
			continue
		}
		if !filter.match(rec) {
			continue
		}
		if len(extra) == 0 {
			extra = nil
		}
		entries = append(entries, Entry{Line: n, Record: rec, Extra: extra, Raw: bytes.Clone(line)})
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}

// Export copies the selected lines unchanged, unknown fields included.
func Export(path string, w io.Writer, filter Filter) (int, error) {
	entries, err := Read(path, filter)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := bw.Write(e.Raw); err != nil {
			return 0, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return 0, err
		}
	}
	return len(entries), bw.Flush()
}

type EntityStats struct {
	EntityType model.EntityType `json:"entity_type"`
	TP         int              `json:"tp"`
	FP         int              `json:"fp"`
	Skipped    int              `json:"skipped"`
}

// Precision is TP/(TP+FP), or 0 without decisive verdicts.
func (e EntityStats) Precision() float64 {
	if e.TP+e.FP == 0 {
		return 0
	}
	return float64(e.TP) / float64(e.TP+e.FP)
}

type Stats struct {
	Total    int           `json:"total"`
	TP       int           `json:"tp"`
	FP       int           `json:"fp"`
	Skipped  int           `json:"skipped"`
	ByEntity []EntityStats `json:"by_entity"`
}

func Summarize(entries []Entry) Stats {
	var st Stats
	by := map[model.EntityType]*EntityStats{}
	for _, e := range entries {
		es, ok := by[e.Record.EntityType]
		if !ok {
			es = &EntityStats{EntityType: e.Record.EntityType}
			by[e.Record.EntityType] = es
		}
		st.Total++
		switch e.Record.Verdict.Normalize() {
		case model.VerdictTP:
			st.TP++
			es.TP++
		case model.VerdictFP:
			st.FP++
			es.FP++
		case model.VerdictSkipped:
			st.Skipped++
			es.Skipped++
		}
	}
	for _, es := range by {
		st.ByEntity = append(st.ByEntity, *es)
	}
	sort.Slice(st.ByEntity, func(i, j int) bool {
		return st.ByEntity[i].EntityType < st.ByEntity[j].EntityType
	})
	return st
}
