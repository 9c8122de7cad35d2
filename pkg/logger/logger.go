// Package logger provides structured logging for builds and watch sessions.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is the logging abstraction used across the orchestrator.
type Logger interface {
	Info(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Error(message string, fields ...Field)
	Debug(message string, fields ...Field)
	// WithBuild derives a logger whose entries carry the given build ID.
	WithBuild(buildID string) Logger
}

// Field is a structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field.
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// buildLogger implements Logger over logrus with an optional build scope.
type buildLogger struct {
	logger  *logrus.Logger
	buildID string
}

// buildFormatter renders entries as "[HH:MM:SS] LEVEL: [build] message {fields}".
type buildFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter.
func (f *buildFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.DebugLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	default:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	}

	buildPrefix := ""
	if id, ok := entry.Data["build"]; ok {
		short := fmt.Sprint(id)
		if len(short) > 8 {
			short = short[:8]
		}
		buildPrefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(short))
		delete(entry.Data, "build")
	}

	var output string
	if f.DisableColors {
		output = fmt.Sprintf("[%s] %s: %s%s", timestamp, levelText, buildPrefix, entry.Message)
	} else {
		output = fmt.Sprintf("[%s] %s: %s%s", timestamp, levelColor.Sprint(levelText), buildPrefix, entry.Message)
	}

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var fields strings.Builder
		fields.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				fields.WriteString(", ")
			}
			fmt.Fprintf(&fields, "%s=%v", k, entry.Data[k])
		}
		fields.WriteString("}")
		output += color.New(color.FgWhite, color.Faint).Sprint(fields.String())
	}

	return []byte(output + "\n"), nil
}

// CreateLogger creates a logger writing to stdout, optionally teeing to a file.
func CreateLogger(logFile string, logLevel string) Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&buildFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   false,
	})

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err == nil {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return &buildLogger{logger: log}
}

// CreateLoggerWithOutput creates a logger with a custom output (for testing).
func CreateLoggerWithOutput(logLevel string, output io.Writer) Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&buildFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   true,
	})

	if output == nil {
		output = io.Discard
	}
	log.SetOutput(output)

	return &buildLogger{logger: log}
}

// WithBuild derives a logger scoped to one build.
func (l *buildLogger) WithBuild(buildID string) Logger {
	return &buildLogger{logger: l.logger, buildID: buildID}
}

func (l *buildLogger) convertFields(fields []Field) logrus.Fields {
	result := make(logrus.Fields)
	if l.buildID != "" {
		result["build"] = l.buildID
	}
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

func (l *buildLogger) Info(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Info(message)
}

func (l *buildLogger) Warn(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Warn(message)
}

func (l *buildLogger) Error(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Error(message)
}

func (l *buildLogger) Debug(message string, fields ...Field) {
	l.logger.WithFields(l.convertFields(fields)).Debug(message)
}

// nopLogger discards everything.
type nopLogger struct{}

// Nop returns a logger that discards all entries.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Info(string, ...Field)   {}
func (nopLogger) Warn(string, ...Field)   {}
func (nopLogger) Error(string, ...Field)  {}
func (nopLogger) Debug(string, ...Field)  {}
func (nopLogger) WithBuild(string) Logger { return nopLogger{} }
