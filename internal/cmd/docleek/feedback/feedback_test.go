package feedback

import (
	"testing"

	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeedbackRootCmd(t *testing.T) {
	cmd := NewFeedbackRootCmd()
	require.NotNil(t, cmd)
	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"export", "stats"}, names)
	for _, f := range []string{"ledger", "entity", "verdict"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(f), "flag %s", f)
	}
}

func TestFilterFor(t *testing.T) {
	f := filterFor(FeedbackOptions{EntityTypes: []string{"SSN", " "}, Verdicts: []string{"tp", "fp"}})
	assert.Equal(t, []model.EntityType{model.EntitySSN}, f.EntityTypes)
	assert.Equal(t, []model.Verdict{model.VerdictTP, model.VerdictFP}, f.Verdicts)

	assert.Empty(t, filterFor(FeedbackOptions{}).EntityTypes)
}
