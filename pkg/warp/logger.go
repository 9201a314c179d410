package warp

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/janekolszak/warp/config"
	"github.com/janekolszak/warp/logging"
)

// NewLogger creates a logger from configuration. The returned closer
// releases a log file and is a no-op for stdout and stderr.
func NewLogger(cfg config.LoggingConfig) (*logging.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "stderr", "":
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f
	}

	if strings.ToLower(cfg.Format) == "json" {
		return logging.NewJSONLogger(w, logging.ParseLevel(cfg.Level)), closer, nil
	}
	return logging.NewTextLogger(w, logging.ParseLevel(cfg.Level)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
