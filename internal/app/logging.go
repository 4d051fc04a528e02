package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Alnajaar/nilelink-sub003/internal/config"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// openLogger builds the process logger. The returned closer is nil unless
// output goes to a file.
func openLogger(cfg config.LogConfig) (*logging.Logger, io.Closer, error) {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.Level)

	var closer io.Closer
	switch out := strings.TrimSpace(cfg.Output); out {
	case "", "stderr":
		lc.Output = os.Stderr
	case "stdout":
		lc.Output = os.Stdout
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		lc.Output = f
		closer = f
	}
	return logging.New(lc), closer, nil
}

// logsToTerminal reports whether log lines would land on the screen the
// monitor draws on.
func logsToTerminal(cfg config.LogConfig) bool {
	switch strings.TrimSpace(cfg.Output) {
	case "", "stderr", "stdout":
		return true
	}
	return false
}
