package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DrC0ns0le/ipban/pkg/logging"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLogger(&buf, slog.LevelInfo)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warn("careful")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "careful")
}

func TestDiscard(t *testing.T) {
	l := logging.Discard()
	assert.NotPanics(t, func() {
		l.Errorf("nothing %s", "here")
	})
}
