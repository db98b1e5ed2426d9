package logger

import (
	"os"

	"golang.org/x/exp/slog"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// New создает логгер под окружение: local — цветной вывод для разработки,
// dev — JSON с уровнем Debug, prod — JSON с уровнем Info.
func New(env string) *slog.Logger {
	switch env {
	case EnvProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return setupPrettySlog()
	}
}

// NewWithLevel — как New, но уровень задается явно (debug, info, warn, error).
// Нераспознанный уровень трактуется как info.
func NewWithLevel(env, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	switch env {
	case EnvProd, EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	default:
		opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: lvl}}
		return slog.New(opts.NewPrettyHandler(os.Stdout))
	}
}

func setupPrettySlog() *slog.Logger {
	opts := PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
	}

	return slog.New(opts.NewPrettyHandler(os.Stdout))
}

// Discard возвращает логгер, который ничего не пишет. Используется в тестах.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
