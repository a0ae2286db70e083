// Package scan walks a source tree and runs every file through extraction,
// detection, fusion and labeling on a bounded worker pool.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/detector"
	"github.com/CompassSecurity/docleek/pkg/detector/tpfp"
	"github.com/CompassSecurity/docleek/pkg/extract"
	"github.com/CompassSecurity/docleek/pkg/fusion"
	"github.com/CompassSecurity/docleek/pkg/label"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/CompassSecurity/docleek/pkg/redact"
	"github.com/CompassSecurity/docleek/pkg/signal"
	"github.com/CompassSecurity/docleek/pkg/store"
	"github.com/rs/zerolog/log"
	"github.com/wandb/parallel"
)

type Extractor interface {
	Documents(ctx context.Context, path string) []extract.Document
}

// Classifier rescores fused groups. It runs after grouping because it needs
// the masked context of the whole group.
type Classifier interface {
	Score(ctx context.Context, items []tpfp.Item) (tpfp.Result, error)
}

type Scanner struct {
	opts       config.ScanOptions
	extractor  Extractor
	registry   *detector.Registry
	classifier Classifier
	normalizer *signal.Normalizer
	engine     *fusion.Engine
	labels     *label.Resolver
	report     func(model.FileResult)
	now        func() time.Time

	total atomic.Int64
	done  atomic.Int64
}

type Option func(*Scanner)

func WithExtractor(x Extractor) Option {
	return func(s *Scanner) { s.extractor = x }
}

func WithRegistry(r *detector.Registry) Option {
	return func(s *Scanner) { s.registry = r }
}

// WithClassifier replaces the configured classifier, nil disables it.
func WithClassifier(c Classifier) Option {
	return func(s *Scanner) { s.classifier = c }
}

// WithReporter is called once per file result from the worker that produced it.
func WithReporter(fn func(model.FileResult)) Option {
	return func(s *Scanner) { s.report = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

func New(cfg config.Config, opts ...Option) (*Scanner, error) {
	x, err := extract.New(cfg.Scan)
	if err != nil {
		return nil, err
	}
	n := signal.New(cfg)
	s := &Scanner{
		opts:       cfg.Scan,
		extractor:  x,
		normalizer: n,
		registry:   detector.FromConfig(cfg, n),
		engine:     fusion.New(cfg.Fusion, redact.New(cfg.Redaction)),
		labels:     label.New(cfg.Labels),
		now:        time.Now,
	}
	if cfg.Classifier.Enabled() {
		s.classifier = tpfp.New(cfg.Classifier.URL, cfg.Classifier.Timeout)
	}
	for _, o := range opts {
		o(s)
	}
	if s.opts.Workers < 1 {
		s.opts.Workers = 1
	}
	if s.opts.FileTimeout <= 0 {
		s.opts.FileTimeout = config.Default().Scan.FileTimeout
	}
	return s, nil
}

func (s *Scanner) Close() error {
	if c, ok := s.classifier.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Progress returns the number of finished and enqueued files.
func (s *Scanner) Progress() (int64, int64) {
	return s.done.Load(), s.total.Load()
}

// Scan processes every file under root. Cancelling ctx stops handing out
// queued files; files already being scanned finish or time out and the
// record is marked cancelled. The returned record is not persisted.
func (s *Scanner) Scan(ctx context.Context, root string) (model.ScanRecord, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return model.ScanRecord{}, model.NewError(model.KindConfig, model.CodeInvalid, err)
	}
	started := s.now().UTC()
	rec := model.ScanRecord{
		ScanID:     store.ScanID(abs, started),
		StartedAt:  started,
		SourcePath: abs,
	}
	s.total.Store(0)
	s.done.Store(0)

	q, queueFile, err := setupQueue(s.opts.QueueFolder)
	if err != nil {
		return rec, model.NewError(model.KindConfig, model.CodeInvalid, err)
	}
	defer teardownQueue(q, queueFile)

	var unreadable []model.FileResult
	queued := 0
	err = walk(abs, s.opts.Exclude, func(path string, werr error) error {
		if werr != nil {
			log.Debug().Str("path", path).Err(werr).Msg("Unreadable path")
			unreadable = append(unreadable, model.FileResult{Path: path, Error: extract.Classify(werr)})
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enqueue(q, queueItem{Seq: queued, Path: path}); err != nil {
			return err
		}
		queued++
		s.total.Store(int64(queued))
		return nil
	})
	cancelled := false
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		cancelled = true
	default:
		return rec, model.AsError(err, model.KindExtraction, model.CodeNotFound)
	}
	log.Debug().Int("files", queued).Str("root", abs).Msg("Enumerated source tree")

	results := make([][]model.FileResult, queued)
	var skipped atomic.Int64
	// in-flight files must not see the scan being cancelled
	group := parallel.Limited(context.WithoutCancel(ctx), s.opts.Workers)
dispatch:
	for i := 0; i < queued; i++ {
		var msg []byte
		select {
		case <-ctx.Done():
			cancelled = true
			break dispatch
		case msg = <-q.ReadChan():
		}
		var item queueItem
		if err := json.Unmarshal(msg, &item); err != nil || item.Seq < 0 || item.Seq >= queued {
			log.Error().Err(err).Msg("Failed unmarshalling queue item")
			continue
		}
		group.Go(func(fctx context.Context) {
			if ctx.Err() != nil {
				skipped.Add(1)
				return
			}
			res := s.scanFile(fctx, item.Path)
			results[item.Seq] = res
			s.done.Add(1)
			if s.report != nil {
				for _, r := range res {
					s.report(r)
				}
			}
		})
	}
	group.Wait()

	rec.FileResults = append(slices.Concat(results...), unreadable...)
	sort.SliceStable(rec.FileResults, func(i, j int) bool {
		return rec.FileResults[i].Path < rec.FileResults[j].Path
	})
	rec.Cancelled = cancelled || skipped.Load() > 0
	rec.CompletedAt = s.now().UTC()
	return rec, nil
}

// scanFile runs one file under the per-file timeout. A file that does not
// finish in time is reported with a timeout error and abandoned.
func (s *Scanner) scanFile(ctx context.Context, path string) []model.FileResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.FileTimeout)
	defer cancel()

	var extracted atomic.Bool
	out := make(chan []model.FileResult, 1)
	go func() {
		docs := s.extractor.Documents(ctx, path)
		extracted.Store(true)
		results := make([]model.FileResult, 0, len(docs))
		for _, d := range docs {
			results = append(results, s.AnalyzeDocument(ctx, d))
		}
		out <- results
	}()

	select {
	case results := <-out:
		elapsed := time.Since(start)
		for i := range results {
			results[i].ScanDuration = elapsed
		}
		return results
	case <-ctx.Done():
		kind := model.KindExtraction
		if extracted.Load() {
			kind = model.KindDetector
		}
		log.Warn().Str("path", path).Str("timeout", s.opts.FileTimeout.String()).Msg("File scan timed out")
		return []model.FileResult{{
			Path:         path,
			Error:        &model.Error{Kind: kind, Code: model.CodeTimeout, Detail: s.opts.FileTimeout.String()},
			ScanDuration: time.Since(start),
		}}
	}
}

// AnalyzeDocument detects, fuses and labels one extracted document.
func (s *Scanner) AnalyzeDocument(ctx context.Context, doc extract.Document) model.FileResult {
	fr := model.FileResult{
		Path:       doc.Path,
		SizeBytes:  doc.SizeBytes,
		ModifiedAt: doc.ModifiedAt,
		Error:      doc.Err,
	}
	if doc.Err != nil {
		return fr
	}
	var derr *model.Error
	fr.Matches, derr = s.Analyze(ctx, doc.Text)
	if derr != nil {
		fr.Error = derr
	}
	s.labels.Apply(&fr)
	return fr
}

// Analyze runs all detectors over text and resolves their candidates. The
// error lists the detectors that failed, the matches of the others are kept.
func (s *Scanner) Analyze(ctx context.Context, text string) ([]model.ResolvedMatch, *model.Error) {
	candidates, derr := s.registry.Run(ctx, text)
	groups := s.engine.Group(candidates)
	if s.classifier != nil && len(groups) > 0 {
		if err := s.rescore(ctx, text, groups); err != nil {
			log.Debug().Err(err).Msg("Classifier failed")
			derr = withFailed(derr, string(model.SourceClassifier), err)
		}
	}
	return s.engine.Resolve(text, groups), derr
}

// rescore submits the masked context of every group to the classifier and
// adds its scores to the groups.
func (s *Scanner) rescore(ctx context.Context, text string, groups []fusion.Group) error {
	masks := s.engine.Masks(groups)
	items := make([]tpfp.Item, 0, len(groups))
	targets := make(map[string]signal.Target, len(groups))
	for i, g := range groups {
		id := strconv.Itoa(i)
		entity := s.engine.EntityType(g)
		items = append(items, tpfp.Item{MatchID: id, EntityType: entity, Context: s.engine.Context(text, g, masks)})
		targets[id] = signal.Target{EntityType: entity, Span: g.Extent, RawValue: text[g.Extent.Start:g.Extent.End]}
	}

	res, err := s.classifier.Score(ctx, items)
	if err != nil {
		return err
	}
	for _, c := range s.normalizer.FromClassifierScores(res, targets) {
		i, err := strconv.Atoi(c.Rule)
		if err != nil {
			continue
		}
		groups[i].Add(c)
	}
	return nil
}

func withFailed(e *model.Error, name string, err error) *model.Error {
	if e == nil {
		return model.DetectorError(name, err)
	}
	names := append(strings.Split(e.Detail, ","), name)
	slices.Sort(names)
	e.Detail = strings.Join(slices.Compact(names), ",")
	return e
}
