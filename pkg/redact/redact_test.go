package redact

import (
	"testing"
	"testing/quick"
	"unicode/utf8"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	r := New(config.DefaultRedaction())

	tests := []struct {
		name   string
		raw    string
		entity model.EntityType
		want   string
	}{
		{name: "ssn keeps two each side", raw: "219-09-9999", entity: model.EntitySSN, want: "21*******99"},
		{name: "card keeps last four", raw: "4532015112830366", entity: model.EntityCreditCard, want: "************0366"},
		{name: "short value fully masked", raw: "1234", entity: model.EntitySSN, want: "****"},
		{name: "password fully masked", raw: "hunter2!", entity: model.EntityPassword, want: "********"},
		{name: "api key keeps prefix", raw: "ghp_abcdefgh", entity: model.EntityAPIKey, want: "ghp_********"},
		{name: "multibyte runes", raw: "Jürgen Müller", entity: model.EntityName, want: "Jü*********er"},
		{name: "empty", raw: "", entity: model.EntityEmail, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Redact(tt.raw, tt.entity))
		})
	}
}

func TestRedactCustomMask(t *testing.T) {
	r := New(config.RedactionOptions{Mask: "#", Default: config.Keep{Leading: 1, Trailing: 0}})
	assert.Equal(t, "a####", r.Redact("abcde", model.EntityPhone))
}

func TestRedactDeterministicAndBounded(t *testing.T) {
	r := New(config.DefaultRedaction())
	entities := []model.EntityType{model.EntitySSN, model.EntityCreditCard, model.EntityEmail, model.EntityAPIKey, model.EntityName}

	prop := func(raw string, pick uint8) bool {
		entity := entities[int(pick)%len(entities)]
		a := r.Redact(raw, entity)
		b := r.Redact(raw, entity)
		if a != b {
			return false
		}
		if utf8.RuneCountInString(a) != utf8.RuneCountInString(raw) {
			return false
		}

		keep := r.Keep(entity)
		orig := []rune(raw)
		revealed := 0
		for i, c := range []rune(a) {
			if c != '*' && c == orig[i] {
				revealed++
			}
		}
		return revealed <= keep.Leading+keep.Trailing
	}

	assert.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 500}))
}
