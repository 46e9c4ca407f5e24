package logger

import (
	"io"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultRotationTime = 24 * time.Hour
	defaultRetention    = 7 * 24 * time.Hour
	defaultPattern      = ".%Y%m%d"
)

// NewRotationWriter 按配置创建文件 writer，time 使用 file-rotatelogs，其余按大小使用 lumberjack
func NewRotationWriter(cfg *RotationConfig, outputPath string) (io.Writer, error) {
	if cfg.Type != RotationByTime {
		return &lumberjack.Logger{
			Filename:   outputPath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}, nil
	}

	pattern := cfg.RotationPattern
	if pattern == "" {
		pattern = defaultPattern
	}
	return rotatelogs.New(
		outputPath+pattern,
		rotatelogs.WithLinkName(outputPath),
		rotatelogs.WithRotationTime(parseDurationOr(cfg.RotationTime, defaultRotationTime)),
		rotatelogs.WithMaxAge(parseDurationOr(cfg.MaxAgeTime, defaultRetention)),
	)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}
