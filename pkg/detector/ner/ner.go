// Package ner calls the statistical recognizer sidecar over HTTP.
//
// The sidecar exposes POST /classify taking {"text": "..."} and answering
// {"spans": [{"start", "end", "label", "score"}]}. Offsets are code points
// unless the response sets "offset_unit": "byte".
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CompassSecurity/docleek/pkg/httpclient"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Span is one recognizer result translated to byte offsets.
type Span struct {
	Start  int
	End    int
	Label  string
	Entity model.EntityType
	Score  float64
}

type Client struct {
	url  string
	http *retryablehttp.Client
}

// New creates a client for the sidecar at baseURL, e.g. "http://ner:8001".
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		url:  strings.TrimRight(baseURL, "/") + "/classify",
		http: httpclient.NewClient(map[string]string{"User-Agent": "docleek"}, 2, timeout),
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Recognize sends text to the sidecar. Labels without a known entity type are dropped.
func (c *Client) Recognize(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: sidecar unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ner: read: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("ner: invalid json response")
	}

	return parse(text, gjson.ParseBytes(raw)), nil
}

func parse(text string, res gjson.Result) []Span {
	byteOffsets := res.Get("offset_unit").String() == "byte"
	var offsets []int
	if !byteOffsets {
		offsets = runeOffsets(text)
	}

	var spans []Span
	res.Get("spans").ForEach(func(_, s gjson.Result) bool {
		label := s.Get("label").String()
		entity, ok := EntityFor(label)
		if !ok {
			log.Trace().Str("label", label).Msg("Skipping unmapped recognizer label")
			return true
		}

		start, end := int(s.Get("start").Int()), int(s.Get("end").Int())
		if !byteOffsets {
			if start < 0 || end >= len(offsets) {
				return true
			}
			start, end = offsets[start], offsets[end]
		}
		if start < 0 || end > len(text) || start >= end {
			return true
		}

		score := 1.0
		if v := s.Get("score"); v.Exists() {
			score = v.Float()
		}
		spans = append(spans, Span{Start: start, End: end, Label: label, Entity: entity, Score: score})
		return true
	})
	return spans
}

// runeOffsets maps code point index i to its byte offset. The final element is len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

var presidioLabels = map[string]model.EntityType{
	"PERSON":            model.EntityName,
	"PER":               model.EntityName,
	"EMAIL_ADDRESS":     model.EntityEmail,
	"PHONE_NUMBER":      model.EntityPhone,
	"US_SSN":            model.EntitySSN,
	"CREDIT_CARD":       model.EntityCreditCard,
	"LOCATION":          model.EntityAddress,
	"LOC":               model.EntityAddress,
	"DATE_TIME":         model.EntityDateOfBirth,
	"US_DRIVER_LICENSE": model.EntityIdentifier,
	"US_ITIN":           model.EntityIdentifier,
	"US_PASSPORT":       model.EntityIdentifier,
	"US_BANK_NUMBER":    model.EntityIdentifier,
	"MEDICAL_LICENSE":   model.EntityMedicalRecordNumber,
}

var directLabels = map[model.EntityType]bool{
	model.EntitySSN: true, model.EntityCreditCard: true, model.EntityCVV: true,
	model.EntityExpirationDate: true, model.EntityEmail: true, model.EntityPhone: true,
	model.EntityName: true, model.EntityAddress: true, model.EntityDateOfBirth: true,
	model.EntityMedicalRecordNumber: true, model.EntityHealthPlanID: true,
	model.EntityDiagnosis: true, model.EntityMedication: true, model.EntityAPIKey: true,
	model.EntityPassword: true, model.EntityPrivateKey: true,
	model.EntityIdentifier: true, model.EntitySecret: true,
}

// EntityFor maps a recognizer label to an entity type. Both Presidio style
// labels and the entity names themselves are accepted.
func EntityFor(label string) (model.EntityType, bool) {
	if e, ok := presidioLabels[strings.ToUpper(label)]; ok {
		return e, true
	}
	e := model.EntityType(strings.ToLower(label))
	return e, directLabels[e]
}
