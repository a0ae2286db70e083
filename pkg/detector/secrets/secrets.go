// Package secrets runs the trufflehog detector set over extracted text.
package secrets

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/trufflesecurity/trufflehog/v3/pkg/detectors"
	"github.com/trufflesecurity/trufflehog/v3/pkg/engine/defaults"
	"github.com/wandb/parallel"
)

// Source is the part of a trufflehog detector used here.
type Source interface {
	FromData(ctx context.Context, verify bool, data []byte) ([]detectors.Result, error)
	Keywords() []string
}

// Finding is a located secret. Span has no line, the normalizer fills it in.
type Finding struct {
	Detector string
	Entity   model.EntityType
	Span     model.Span
	Value    string
	Verified bool
}

type Detector struct {
	sources []Source
	verify  bool
	workers int
}

// New loads the default trufflehog detectors.
func New(verify bool, workers int) *Detector {
	all := defaults.DefaultDetectors()
	sources := make([]Source, 0, len(all))
	for _, d := range all {
		sources = append(sources, d)
	}
	log.Debug().Int("count", len(sources)).Msg("Loaded TruffleHog rules")
	return NewWithSources(sources, verify, workers)
}

func NewWithSources(sources []Source, verify bool, workers int) *Detector {
	return &Detector{sources: sources, verify: verify, workers: max(workers, 1)}
}

// Find runs every detector whose keywords appear in text. Individual detector
// failures are logged and skipped, only context cancellation fails the call.
func (d *Detector) Find(ctx context.Context, text string) ([]Finding, error) {
	data := []byte(text)
	lower := bytes.ToLower(data)

	group := parallel.Collect[[]Finding](parallel.Limited(ctx, d.workers))
	for _, src := range d.sources {
		if !hasKeyword(lower, src.Keywords()) {
			continue
		}
		group.Go(func(ctx context.Context) ([]Finding, error) {
			results, err := src.FromData(ctx, d.verify, data)
			if err != nil {
				log.Debug().Err(err).Msg("TruffleHog detector failed")
				return nil, nil
			}
			return d.locate(text, results), nil
		})
	}

	perSource, err := group.Wait()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings := slices.Concat(perSource...)
	slices.SortStableFunc(findings, func(a, b Finding) int {
		if a.Span.Start != b.Span.Start {
			return a.Span.Start - b.Span.Start
		}
		return strings.Compare(a.Detector, b.Detector)
	})
	return dedupe(findings), nil
}

func (d *Detector) locate(text string, results []detectors.Result) []Finding {
	var out []Finding
	for _, r := range results {
		if d.verify && !r.Verified {
			continue
		}
		raw := string(r.Raw)
		if raw == "" {
			raw = string(r.RawV2)
		}
		if raw == "" {
			continue
		}
		name := r.DetectorType.String()
		entity := entityFor(name)

		off := 0
		for {
			i := strings.Index(text[off:], raw)
			if i < 0 {
				break
			}
			start := off + i
			out = append(out, Finding{
				Detector: name,
				Entity:   entity,
				Span:     model.Span{Start: start, End: start + len(raw)},
				Value:    raw,
				Verified: r.Verified,
			})
			off = start + len(raw)
		}
	}
	return out
}

func entityFor(detectorName string) model.EntityType {
	lower := strings.ToLower(detectorName)
	switch {
	case strings.Contains(lower, "privatekey"):
		return model.EntityPrivateKey
	case strings.Contains(lower, "password"), strings.Contains(lower, "uri"), strings.Contains(lower, "jdbc"):
		return model.EntityPassword
	default:
		return model.EntityAPIKey
	}
}

func hasKeyword(lower []byte, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if bytes.Contains(lower, []byte(strings.ToLower(k))) {
			return true
		}
	}
	return false
}

// dedupe drops findings with an identical span and entity, keeping the verified one.
func dedupe(findings []Finding) []Finding {
	out := findings[:0]
	for _, f := range findings {
		if n := len(out); n > 0 && out[n-1].Span == f.Span && out[n-1].Entity == f.Entity {
			if f.Verified && !out[n-1].Verified {
				out[n-1] = f
			}
			continue
		}
		out = append(out, f)
	}
	return out
}
