package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"stream-billing/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	writerMu sync.RWMutex
	sink     io.Writer = os.Stdout
)

// Init configures the global zerolog logger. When cfg.File is set, output is
// teed to stdout and a rotating file capped at cfg.MaxMB.
func Init(cfg config.LogConfig) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		fw, err := newRotatingWriter(cfg.File, cfg.MaxMB)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.File).Msg("open log file failed; logging to stdout only")
		} else {
			out = io.MultiWriter(os.Stdout, fw)
		}
	}
	setWriter(out)

	var console io.Writer = out
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: out}
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(console).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
}

// Writer returns the raw sink used by the global logger so that slog based
// request loggers share the same destination.
func Writer() io.Writer {
	writerMu.RLock()
	defer writerMu.RUnlock()
	return sink
}

func setWriter(w io.Writer) {
	writerMu.Lock()
	sink = w
	writerMu.Unlock()
}
