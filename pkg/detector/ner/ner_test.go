package ner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sidecar(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req classifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Text)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecognizeCodePointOffsets(t *testing.T) {
	text := "Grüße an Jane Roe"
	srv := sidecar(t, http.StatusOK, `{"spans":[{"start":9,"end":17,"label":"PERSON","score":0.82}]}`)

	spans, err := New(srv.URL, time.Second).Recognize(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "Jane Roe", text[spans[0].Start:spans[0].End])
	assert.Equal(t, model.EntityName, spans[0].Entity)
	assert.InDelta(t, 0.82, spans[0].Score, 1e-9)
}

func TestRecognizeByteOffsetsAndLabels(t *testing.T) {
	text := "mail jane@corp.io, ticket X"
	srv := sidecar(t, http.StatusOK, `{"offset_unit":"byte","spans":[
		{"start":5,"end":17,"label":"EMAIL_ADDRESS"},
		{"start":26,"end":27,"label":"NRP","score":0.4},
		{"start":19,"end":25,"label":"identifier","score":0.3},
		{"start":20,"end":99,"label":"PERSON","score":0.9}
	]}`)

	spans, err := New(srv.URL+"/", time.Second).Recognize(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "jane@corp.io", text[spans[0].Start:spans[0].End])
	assert.Equal(t, model.EntityEmail, spans[0].Entity)
	assert.Equal(t, 1.0, spans[0].Score, "missing score defaults to certain")
	assert.Equal(t, model.EntityIdentifier, spans[1].Entity)
}

func TestRecognizeErrors(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		srv := sidecar(t, http.StatusBadRequest, `{}`)
		_, err := New(srv.URL, time.Second).Recognize(context.Background(), "text")
		assert.ErrorContains(t, err, "unexpected status 400")
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := sidecar(t, http.StatusOK, `{"spans": [`)
		_, err := New(srv.URL, time.Second).Recognize(context.Background(), "text")
		assert.ErrorContains(t, err, "invalid json")
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		c := New(url, 100*time.Millisecond)
		c.http.RetryMax = 0
		_, err := c.Recognize(context.Background(), "text")
		assert.ErrorContains(t, err, "unreachable")
	})
}

func TestEntityFor(t *testing.T) {
	tests := []struct {
		label string
		want  model.EntityType
		ok    bool
	}{
		{"PERSON", model.EntityName, true},
		{"us_ssn", model.EntitySSN, true},
		{"MEDICAL_LICENSE", model.EntityMedicalRecordNumber, true},
		{"diagnosis", model.EntityDiagnosis, true},
		{"ORGANIZATION", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := EntityFor(tt.label)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
