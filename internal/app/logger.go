package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production always ships JSON for the
// log collector; elsewhere LOG_FORMAT picks between json and readable text.
func NewLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg != nil && (cfg.LogFormat == "json" || cfg.IsProduction()) {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	return slog.New(handler).With(slog.String("service", "cargodesk"))
}
