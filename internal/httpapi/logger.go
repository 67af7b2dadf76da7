package httpapi

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogOptions configures NewLogger. Format "console" writes human-readable lines for
// local runs; any other value writes JSON.
type LogOptions struct {
	Level  string
	Format string
	Out    io.Writer
}

var logLevels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"fatal":    zerolog.FatalLevel,
	"panic":    zerolog.PanicLevel,
	"off":      zerolog.Disabled,
	"disabled": zerolog.Disabled,
}

func NewLogger(opts LogOptions) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(opts.Level))

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "metromap").Logger()
}

// parseLevel falls back to info for unknown names.
func parseLevel(level string) zerolog.Level {
	if l, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return zerolog.InfoLevel
}
