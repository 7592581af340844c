package yamux

import (
	"context"
	"fmt"

	"github.com/inconshreveable/log15"

	"github.com/streammux/yamux/log"
)

// log15Handler adapts a log15.Record back to the public log.Logger
// interface, so a caller-supplied Logger keeps receiving everything the
// engine logs internally via log15.
type log15Handler struct {
	log.Logger
}

// toLog15 converts the public log.Logger interface to a log15.Logger for
// internal use. If l already implements log15.Logger (as the log15adapter
// submodule's Logger does), it's used directly instead of being wrapped
// again.
func toLog15(l log.Logger) log15.Logger {
	if logger, ok := l.(log15.Logger); ok {
		return logger
	}

	logger := log15.New()
	logger.SetHandler(&log15Handler{l})
	return logger
}

func (l *log15Handler) Log(r *log15.Record) error {
	lvl := log.LogLevelNone
	switch r.Lvl {
	case log15.LvlCrit, log15.LvlError:
		lvl = log.LogLevelError
	case log15.LvlWarn:
		lvl = log.LogLevelWarn
	case log15.LvlInfo:
		lvl = log.LogLevelInfo
	case log15.LvlDebug:
		lvl = log.LogLevelDebug
	}

	data := make(map[string]interface{}, len(r.Ctx)/2)
	for i := 0; i < len(r.Ctx); i += 2 {
		k, ok := r.Ctx[i].(string)
		if !ok {
			k = fmt.Sprint(r.Ctx[i])
		}
		v := interface{}("MISSING_VALUE")
		if len(r.Ctx) > i+1 {
			v = r.Ctx[i+1]
		}
		data[k] = v
	}

	l.Logger.Log(context.Background(), lvl, r.Msg, data)
	return nil
}
