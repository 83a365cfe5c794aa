package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/chat-bridge/internal/sysutil"
)

// LogOptions configures SetupLogger.
type LogOptions struct {
	Level   string
	Pretty  bool
	Service string
	Version string
	Out     io.Writer // defaults to os.Stderr
}

// SetupLogger installs the global zerolog logger: level, optional console
// output, service/version fields and the TraceHook. It returns the logger
// for callers that want to hold it directly.
func SetupLogger(opts LogOptions) zerolog.Logger {
	sysutil.SetLogLevel(opts.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if v := sysutil.FirstNonEmpty(opts.Version); v != "" {
		ctx = ctx.Str("version", v)
	}
	l := ctx.Logger().Hook(TraceHook{})

	log.Logger = l
	zerolog.DefaultContextLogger = &l
	return l
}
