package utils

import (
	"log"
	"strings"
)

// Level 日志级别
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger 简单日志封装
type Logger struct {
	level  Level
	prefix string
}

// NewLogger returns a logger that drops messages below level.
func NewLogger(level Level) *Logger {
	return &Logger{level: level}
}

// With returns a copy of the logger whose messages start with "[name] ".
func (l *Logger) With(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{level: l.level, prefix: l.prefix + "[" + name + "] "}
}

// Debug 调试日志
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.output(LevelDebug, "[DEBUG] ", msg, args...)
}

// Info 信息日志
func (l *Logger) Info(msg string, args ...interface{}) {
	l.output(LevelInfo, "[INFO] ", msg, args...)
}

// Warn 警告日志
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.output(LevelWarn, "[WARN] ", msg, args...)
}

// Error 错误日志
func (l *Logger) Error(msg string, args ...interface{}) {
	l.output(LevelError, "[ERROR] ", msg, args...)
}

func (l *Logger) output(level Level, tag, msg string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	log.Printf(tag+l.prefix+msg, args...)
}

var DefaultLogger = &Logger{level: LevelInfo}
