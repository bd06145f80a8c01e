// Copyright 2025 Redpanda Data, Inc.

package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _ Modular = (*Logger)(nil)

// FileConfig configures optional on-disk logging with rotation.
type FileConfig struct {
	Path         string `yaml:"path"`
	Rotate       bool   `yaml:"rotate"`
	RotateMaxAge int    `yaml:"rotate_max_age_days"`
}

// Config configures a Logger.
type Config struct {
	File          FileConfig        `yaml:"file"`
	Format        string            `yaml:"format"` // "json" or "logfmt"
	LogLevel      string            `yaml:"level"`
	AddTimeStamp  bool              `yaml:"add_timestamp"`
	TimestampName string            `yaml:"timestamp_name"`
	MessageName   string            `yaml:"message_name"`
	LevelName     string            `yaml:"level_name"`
	StaticFields  map[string]string `yaml:"static_fields"`
}

// DefaultConfig returns JSON logging at INFO level to stdout.
func DefaultConfig() Config {
	return Config{
		Format:        "json",
		LogLevel:      "INFO",
		AddTimeStamp:  true,
		TimestampName: "time",
		MessageName:   "message",
		LevelName:     "level",
	}
}

// Logger is a glorified wrapper around logrus.
type Logger struct {
	entry *logrus.Entry
}

// New returns a new logger built from config, writing to stream. If
// config.File.Path is set, the returned logger is a TeeLogger that writes to
// both stream and the file, so enabling file logging never silences the
// console the way simply swapping the output writer would.
func New(stream io.Writer, config Config) (Modular, error) {
	primary, err := newSingle(stream, config)
	if err != nil {
		return nil, err
	}
	if config.File.Path == "" {
		return primary, nil
	}

	var fileStream io.Writer
	if config.File.Rotate {
		fileStream = &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    10,
			MaxAge:     config.File.RotateMaxAge,
			MaxBackups: 1,
			Compress:   true,
		}
	} else {
		fw, err := os.OpenFile(config.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, err
		}
		fileStream = fw
	}
	secondary, err := newSingle(fileStream, config)
	if err != nil {
		return nil, err
	}
	return TeeLogger(primary, secondary), nil
}

// newSingle builds one logrus-backed Logger writing to a single stream.
func newSingle(stream io.Writer, config Config) (Modular, error) {
	logger := logrus.New()
	logger.Out = stream

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			DisableTimestamp: !config.AddTimeStamp,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  config.TimestampName,
				logrus.FieldKeyMsg:   config.MessageName,
				logrus.FieldKeyLevel: config.LevelName,
			},
		})
	case "logfmt":
		logger.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: !config.AddTimeStamp,
			QuoteEmptyFields: true,
			FullTimestamp:    config.AddTimeStamp,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  config.TimestampName,
				logrus.FieldKeyMsg:   config.MessageName,
				logrus.FieldKeyLevel: config.LevelName,
			},
		})
	default:
		return nil, fmt.Errorf("log format '%v' not recognized", config.Format)
	}

	switch strings.ToUpper(config.LogLevel) {
	case "OFF", "NONE":
		logger.Level = logrus.PanicLevel
	case "FATAL":
		logger.Level = logrus.FatalLevel
	case "ERROR":
		logger.Level = logrus.ErrorLevel
	case "WARN":
		logger.Level = logrus.WarnLevel
	case "INFO":
		logger.Level = logrus.InfoLevel
	case "DEBUG":
		logger.Level = logrus.DebugLevel
	case "TRACE", "ALL":
		logger.Level = logrus.TraceLevel
	default:
		return nil, errors.New("log: unrecognized log_level")
	}

	sFields := logrus.Fields{}
	for k, v := range config.StaticFields {
		sFields[k] = v
	}

	return &Logger{entry: logger.WithFields(sFields)}, nil
}

// Noop creates a logger that writes nothing.
func Noop() Modular {
	logger := logrus.New()
	logger.Out = io.Discard
	return &Logger{entry: logger.WithFields(logrus.Fields{})}
}

// WithFields returns a logger with new fields added to the structured
// output.
func (l *Logger) WithFields(inboundFields map[string]string) Modular {
	newFields := make(logrus.Fields, len(inboundFields))
	for k, v := range inboundFields {
		newFields[k] = v
	}
	newLogger := *l
	newLogger.entry = l.entry.WithFields(newFields)
	return &newLogger
}

// With returns a copy of the logger with new labels added to the logging
// context.
func (l *Logger) With(keyValues ...any) Modular {
	newEntry := l.entry.WithFields(logrus.Fields{})
	for i := 0; i < (len(keyValues) - 1); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		newEntry = newEntry.WithField(key, keyValues[i+1])
	}
	newLogger := *l
	newLogger.entry = newEntry
	return &newLogger
}

// Fatal prints a fatal message then exits, via logrus.Entry.Fatalf.
func (l *Logger) Fatal(format string, v ...any) {
	l.entry.Fatalf(strings.TrimSuffix(format, "\n"), v...)
}

// Error prints an error message.
func (l *Logger) Error(format string, v ...any) {
	l.entry.Errorf(strings.TrimSuffix(format, "\n"), v...)
}

// Warn prints a warning message.
func (l *Logger) Warn(format string, v ...any) {
	l.entry.Warnf(strings.TrimSuffix(format, "\n"), v...)
}

// Info prints an informational message.
func (l *Logger) Info(format string, v ...any) {
	l.entry.Infof(strings.TrimSuffix(format, "\n"), v...)
}

// Debug prints a debug message.
func (l *Logger) Debug(format string, v ...any) {
	l.entry.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

// Trace prints a trace message.
func (l *Logger) Trace(format string, v ...any) {
	l.entry.Tracef(strings.TrimSuffix(format, "\n"), v...)
}
