package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "docleek", cmd.Use)
	assert.NotNil(t, cmd.PersistentPreRun)
	for _, f := range []string{"json", "logfile", "verbose", "log-level", "config", "tables", "env-file", "actor", "store", "audit-log", "key-source"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(f), "flag %s", f)
	}
}
