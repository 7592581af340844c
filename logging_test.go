package yamux

import (
	"context"
	"testing"

	"github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"

	"github.com/streammux/yamux/log"
)

type capturingLogger struct {
	level log.LogLevel
	msg   string
	data  map[string]interface{}
}

func (c *capturingLogger) Log(_ context.Context, level log.LogLevel, msg string, data map[string]interface{}) {
	c.level = level
	c.msg = msg
	c.data = data
}

func TestToLog15BridgesBack(t *testing.T) {
	captured := &capturingLogger{}
	logger := toLog15(captured)

	logger.Warn("reconnect failed", "attempt", 3)

	require.Equal(t, log.LogLevelWarn, captured.level)
	require.Equal(t, "reconnect failed", captured.msg)
	require.Equal(t, 3, captured.data["attempt"])
}

// dualLogger satisfies both log.Logger and log15.Logger, the way the
// log15adapter submodule's Logger does, so toLog15 can recognize and
// downcast it instead of wrapping it in another handler.
type dualLogger struct {
	log15.Logger
}

func (d dualLogger) Log(context.Context, log.LogLevel, string, map[string]interface{}) {}

func TestToLog15DowncastsExistingLog15Logger(t *testing.T) {
	base := log15.New()
	d := &dualLogger{base}

	require.Same(t, d, toLog15(d))
}
