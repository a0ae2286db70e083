package docleek

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDocleekRootCmd(t *testing.T) {
	cmd := NewDocleekRootCmd()

	names := map[string]string{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = c.GroupID
	}
	assert.Equal(t, map[string]string{
		"scan":     "Scan",
		"relabel":  "Scan",
		"review":   "Review",
		"feedback": "Review",
		"scans":    "Store",
		"stats":    "Store",
		"purge":    "Store",
		"export":   "Store",
		"import":   "Store",
		"audit":    "Store",
	}, names)
}
