package app

import (
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFileLogger returns a JSON zap logger writing to a rotating file, for
// processes whose terminal is taken by the UI. The returned function
// flushes and closes the file.
func NewFileLogger(cfg LogConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse log level")
	}
	if cfg.File == "" {
		return nil, nil, errors.New("log file is required")
	}

	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)

	lg := zap.New(core, zap.AddCaller())
	return lg, func() {
		_ = lg.Sync()
		_ = w.Close()
	}, nil
}
