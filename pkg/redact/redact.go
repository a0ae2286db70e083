// Package redact masks sensitive values before they leave the fusion engine.
package redact

import (
	"strings"
	"unicode/utf8"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/model"
)

// Redactor applies the per entity keep table. It is safe for concurrent use.
type Redactor struct {
	mask   rune
	def    config.Keep
	entity map[model.EntityType]config.Keep
}

func New(opts config.RedactionOptions) *Redactor {
	mask, _ := utf8.DecodeRuneInString(opts.Mask)
	if opts.Mask == "" || mask == utf8.RuneError {
		mask = '*'
	}
	entity := make(map[model.EntityType]config.Keep, len(opts.Entity))
	for k, v := range opts.Entity {
		entity[k] = v
	}
	return &Redactor{mask: mask, def: opts.Default, entity: entity}
}

// Keep returns the configured visible prefix and suffix for an entity type.
func (r *Redactor) Keep(entity model.EntityType) config.Keep {
	if k, ok := r.entity[entity]; ok {
		return k
	}
	return r.def
}

// Redact keeps the configured leading and trailing runes and masks the rest.
// The output has the same rune count as the input. A value no longer than the
// visible part is masked entirely so it is never reproduced in full.
func (r *Redactor) Redact(raw string, entity model.EntityType) string {
	runes := []rune(raw)
	keep := r.Keep(entity)
	lead, trail := max(keep.Leading, 0), max(keep.Trailing, 0)

	if len(runes) <= lead+trail {
		return strings.Repeat(string(r.mask), len(runes))
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i, c := range runes {
		if i < lead || i >= len(runes)-trail {
			b.WriteRune(c)
		} else {
			b.WriteRune(r.mask)
		}
	}
	return b.String()
}
