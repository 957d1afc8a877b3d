package logging

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

const (
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

// Initialize sets the default slog logger. Format is one of json, text or
// tint; level is parsed by slog (debug, info, warn, error).
func Initialize(format, levelName string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("could not parse log level: %w", err)
	}

	var handler slog.Handler
	switch format {
	case JSON:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	case Text:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	case Tint:
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	default:
		return fmt.Errorf("unknown logging format: %s", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
