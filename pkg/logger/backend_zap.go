package logger

import (
	"io"
	"log/slog"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultSampleInitial    = 100
	defaultSampleThereafter = 10
)

func newZapHandler(cfg Config, out io.Writer) slog.Handler {
	lvl := cfg.level()
	core := zapcore.NewCore(jsonEncoder(cfg.AddSource), zapcore.AddSync(out), toZapLevel(lvl))

	// the relay logs every join/leave, so JSON output is always sampled
	core = zapcore.NewSamplerWithOptions(core, time.Second,
		orDefault(cfg.SampleInitial, defaultSampleInitial),
		orDefault(cfg.SampleThereafter, defaultSampleThereafter))

	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return slogzap.Option{Level: lvl, Logger: z}.NewZapHandler()
}

func jsonEncoder(addSource bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if addSource {
		ec.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		ec.CallerKey = zapcore.OmitKey
	}
	return zapcore.NewJSONEncoder(ec)
}

// toZapLevel: slog levels are spaced by 4 (Debug=-4 ... Error=8), zap by 1 (Debug=-1 ... Error=2).
func toZapLevel(lvl slog.Level) zapcore.Level {
	z := zapcore.Level(lvl / 4)
	if lvl < 0 && lvl%4 != 0 {
		z--
	}
	switch {
	case z < zapcore.DebugLevel:
		return zapcore.DebugLevel
	case z > zapcore.ErrorLevel:
		return zapcore.ErrorLevel
	}
	return z
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
