// Package tpfp talks to the trainable true/false positive classifier.
package tpfp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"
)

// Item is one fused group submitted for scoring. The context never carries raw values.
type Item struct {
	MatchID    string           `json:"match_id"`
	EntityType model.EntityType `json:"entity_type"`
	Context    string           `json:"context"`
}

type Score struct {
	MatchID string  `json:"match_id"`
	Score   float64 `json:"score"`
}

// Result is the classifier answer for one batch.
type Result struct {
	ModelVersion string  `json:"model_version"`
	Scores       []Score `json:"scores"`
}

type scoreRequest struct {
	Items []Item `json:"items"`
}

type Client struct {
	client *resty.Client
}

// New creates a classifier client for baseURL. Requests go to POST {baseURL}/score.
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100*time.Millisecond).
		SetHeader("User-Agent", "docleek")
	c.AddRetryHooks(
		func(res *resty.Response, err error) {
			if res != nil && res.StatusCode() == 429 {
				log.Debug().Int("status", res.StatusCode()).Msg("Retrying classifier request, we are rate limited")
			} else {
				log.Debug().Err(err).Msg("Retrying classifier request")
			}
		},
	)
	return &Client{client: c}
}

// Score sends items and returns the scores the classifier produced. Scores for
// unknown match ids are dropped and values are clamped into [0,1].
func (c *Client) Score(ctx context.Context, items []Item) (Result, error) {
	if len(items) == 0 {
		return Result{}, nil
	}

	var out Result
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(scoreRequest{Items: items}).
		SetResult(&out).
		Post("/score")
	if err != nil {
		return Result{}, fmt.Errorf("tpfp: request: %w", err)
	}
	if res.IsError() {
		return Result{}, fmt.Errorf("tpfp: unexpected status %d", res.StatusCode())
	}

	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.MatchID] = true
	}
	scores := out.Scores[:0]
	for _, s := range out.Scores {
		if !known[s.MatchID] {
			continue
		}
		s.Score = min(max(s.Score, 0), 1)
		scores = append(scores, s)
	}
	out.Scores = scores
	return out, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
