package audit

import (
	"testing"
	"time"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestNewAuditCmd(t *testing.T) {
	cmd := NewAuditCmd()
	assert.Equal(t, "audit", cmd.Use)
	for _, name := range []string{"action", "scan", "since", "failures", "summary"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.Error(t, cmd.Args(cmd, []string{"x"}))
}

func TestFilterFor(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	f := filterFor(AuditOptions{Action: "review_verdict", ScanID: "s1", Since: 2 * time.Hour, FailuresOnly: true}, now)
	assert.Equal(t, model.AuditReviewVerdict, f.Action)
	assert.Equal(t, "s1", f.ScanID)
	assert.Equal(t, now.Add(-2*time.Hour), f.Since)
	assert.True(t, f.FailuresOnly)

	f = filterFor(AuditOptions{}, now)
	assert.True(t, f.Since.IsZero())
	assert.Empty(t, f.Action)
}
