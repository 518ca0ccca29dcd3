// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"kis-trader/internal/config"
	"kis-trader/internal/models"
)

// New creates a logger from the application log configuration.
func New(cfg config.LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithCode adds a stock code to the logger context.
func WithCode(logger zerolog.Logger, code string) zerolog.Logger {
	return logger.With().Str("code", code).Logger()
}

// LogOrder logs an order lifecycle event.
func LogOrder(logger zerolog.Logger, ev models.TradeEvent) {
	logger.Info().
		Str("event", string(ev.Type)).
		Str("code", ev.Code).
		Str("side", string(ev.Side)).
		Int("quantity", ev.Quantity).
		Float64("price", ev.Price).
		Str("order_ref", ev.OrderRef).
		Str("reason", ev.Reason).
		Msg("Order update")
}

// LogSkip logs an action skipped after an unrecoverable gateway outcome.
// Every skip carries enough context to reconstruct what happened.
func LogSkip(logger zerolog.Logger, code, action string, err error) {
	logger.Warn().
		Str("event", "skipped").
		Str("code", code).
		Str("action", action).
		Err(err).
		Msg("Action skipped this tick")
}

// LogAPICall logs a gateway dispatch.
func LogAPICall(logger zerolog.Logger, endpoint string, attempt int, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("endpoint", endpoint).
		Int("attempt", attempt).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
