// Package detector runs the configured detectors over a document's text and
// isolates their failures from each other.
package detector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/detector/ner"
	"github.com/CompassSecurity/docleek/pkg/detector/pattern"
	"github.com/CompassSecurity/docleek/pkg/detector/secrets"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/CompassSecurity/docleek/pkg/signal"
	"github.com/rs/zerolog/log"
	"github.com/wandb/parallel"
)

// Detector produces normalized candidates for one text.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]model.CandidateMatch, error)
}

type patternDetector struct {
	d *pattern.Detector
	n *signal.Normalizer
}

func (p patternDetector) Name() string { return string(model.SourcePattern) }

func (p patternDetector) Detect(ctx context.Context, text string) ([]model.CandidateMatch, error) {
	hits, err := p.d.DetectAll(ctx, text)
	if err != nil {
		return nil, err
	}
	return p.n.FromPatternHits(hits), nil
}

type secretsDetector struct {
	d *secrets.Detector
	n *signal.Normalizer
}

func (s secretsDetector) Name() string { return string(model.SourceSecrets) }

func (s secretsDetector) Detect(ctx context.Context, text string) ([]model.CandidateMatch, error) {
	findings, err := s.d.Find(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.n.FromSecrets(text, findings), nil
}

// Recognizer is the statistical recognizer collaborator.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]ner.Span, error)
}

type recognizerDetector struct {
	r Recognizer
	n *signal.Normalizer
}

func (r recognizerDetector) Name() string { return string(model.SourceRecognizer) }

func (r recognizerDetector) Detect(ctx context.Context, text string) ([]model.CandidateMatch, error) {
	spans, err := r.r.Recognize(ctx, text)
	if err != nil {
		return nil, err
	}
	return r.n.FromRecognizerSpans(text, spans), nil
}

func NewPattern(d *pattern.Detector, n *signal.Normalizer) Detector {
	return patternDetector{d: d, n: n}
}

func NewSecrets(d *secrets.Detector, n *signal.Normalizer) Detector {
	return secretsDetector{d: d, n: n}
}

func NewRecognizer(r Recognizer, n *signal.Normalizer) Detector {
	return recognizerDetector{r: r, n: n}
}

type Registry struct {
	detectors []Detector
}

func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// FromConfig registers the pattern detector plus every enabled optional detector.
func FromConfig(cfg config.Config, n *signal.Normalizer) *Registry {
	r := NewRegistry(NewPattern(pattern.New(cfg.Pattern), n))
	if cfg.Secrets.Enabled {
		r.Register(NewSecrets(secrets.New(cfg.Secrets.Verify, cfg.Pattern.Workers), n))
	}
	if cfg.Recognizer.Enabled() {
		r.Register(NewRecognizer(ner.New(cfg.Recognizer.URL, cfg.Recognizer.Timeout), n))
	}
	return r
}

func (r *Registry) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.detectors))
	for _, d := range r.detectors {
		names = append(names, d.Name())
	}
	return names
}

var errNotRun = errors.New("detector did not run")

type outcome struct {
	candidates []model.CandidateMatch
	err        error
}

// Run executes every detector concurrently. A failing or panicking detector
// only loses its own candidates. The returned error lists the failed detectors
// in Detail and is nil when all succeeded. Candidates are returned in
// registration order.
func (r *Registry) Run(ctx context.Context, text string) ([]model.CandidateMatch, *model.Error) {
	outcomes := make([]outcome, len(r.detectors))
	for i := range outcomes {
		outcomes[i].err = errNotRun
	}
	group := parallel.Unlimited(ctx)
	for i, d := range r.detectors {
		group.Go(func(ctx context.Context) {
			outcomes[i] = runOne(ctx, d, text)
		})
	}
	group.Wait()

	var candidates []model.CandidateMatch
	var failed []string
	var first error
	for i, o := range outcomes {
		if o.err != nil {
			name := r.detectors[i].Name()
			log.Debug().Str("detector", name).Err(o.err).Msg("Detector failed")
			failed = append(failed, name)
			if first == nil {
				first = o.err
			}
			continue
		}
		candidates = append(candidates, o.candidates...)
	}
	if len(failed) == 0 {
		return candidates, nil
	}
	slices.Sort(failed)
	return candidates, model.DetectorError(strings.Join(failed, ","), first)
}

func runOne(ctx context.Context, d Detector, text string) (o outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = outcome{err: fmt.Errorf("detector %s panicked: %v", d.Name(), p)}
		}
	}()
	candidates, err := d.Detect(ctx, text)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return outcome{err: err}
	}
	return outcome{candidates: candidates}
}
