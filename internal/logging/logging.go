// Package logging is docanchor's structured logger. It wraps log/slog with a
// process-wide logger, request IDs carried in the context, and helpers that
// give annotation, snapshot, HTTP and websocket events consistent field
// names. Logs go to stderr so stdout stays free for command output.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey is the type of context keys set by this package.
type ContextKey string

// RequestIDKey carries the request ID in a context.
const RequestIDKey ContextKey = "request_id"

// Level is a log threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects the handler.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

var slogLevels = map[Level]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"":        LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var defaultLogger *slog.Logger

func init() {
	InitLogger(LevelInfo, FormatJSON)
}

// ParseLevel maps a level name (debug, info, warn, error) to a Level.
func ParseLevel(name string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(name)]; ok {
		return l, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// ParseFormat maps a format name (json, text) to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json", "":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	}
	return FormatJSON, fmt.Errorf("unknown log format %q", name)
}

// InitLogger replaces the process logger with one writing to stderr.
func InitLogger(level Level, format Format) {
	InitLoggerTo(os.Stderr, level, format)
}

// InitLoggerTo replaces the process logger with one writing to w. Unknown
// levels log at info.
func InitLoggerTo(w io.Writer, level Level, format Format) {
	threshold, ok := slogLevels[level]
	if !ok {
		threshold = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: threshold,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if format == FormatText {
		h = slog.NewTextHandler(w, opts)
	}
	defaultLogger = slog.New(h)
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the process logger.
func GetLogger() *slog.Logger {
	return defaultLogger
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// LoggerFromContext returns the process logger with the context's request
// ID attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if id := GetRequestID(ctx); id != "" {
		return defaultLogger.With("request_id", id)
	}
	return defaultLogger
}

func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Debug(msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Info(msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Warn(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Error(msg, args...)
}

// emit logs msg with the fixed fields first and the caller's extra
// key-value pairs after them.
func emit(l *slog.Logger, level slog.Level, msg string, extra []any, fixed ...any) {
	l.Log(context.Background(), level, msg, append(fixed, extra...)...)
}

func httpFields(method, path, remoteAddr string, statusCode int, duration time.Duration) []any {
	return []any{
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	}
}

// HTTPRequest logs one served request.
func HTTPRequest(method, path, remoteAddr string, statusCode int, duration time.Duration, args ...any) {
	emit(defaultLogger, slog.LevelInfo, "http_request", args, httpFields(method, path, remoteAddr, statusCode, duration)...)
}

// HTTPRequestContext is HTTPRequest with the request ID from ctx.
func HTTPRequestContext(ctx context.Context, method, path, remoteAddr string, statusCode int, duration time.Duration, args ...any) {
	emit(LoggerFromContext(ctx), slog.LevelInfo, "http_request", args, httpFields(method, path, remoteAddr, statusCode, duration)...)
}

// AnnotationAttached logs a comment anchored in a document.
func AnnotationAttached(ctx context.Context, document string, id int, mode string, paragraph int, args ...any) {
	emit(LoggerFromContext(ctx), slog.LevelInfo, "annotation_attached", args,
		"document", document, "annotation_id", id, "mode", mode, "paragraph", paragraph)
}

// AnnotationFailed logs a request that produced no comment.
func AnnotationFailed(ctx context.Context, document, target string, err error, args ...any) {
	emit(LoggerFromContext(ctx), slog.LevelError, "annotation_failed", args,
		"document", document, "target", target, "error", err.Error())
}

// SnapshotStored logs a document written to the snapshot store.
func SnapshotStored(ctx context.Context, sha256 string, size int64, args ...any) {
	emit(LoggerFromContext(ctx), slog.LevelDebug, "snapshot_stored", args,
		"sha256", sha256, "size", size)
}

func WebSocketEvent(name string, clientCount int, args ...any) {
	emit(defaultLogger, slog.LevelInfo, "websocket_event", args,
		"event", name, "client_count", clientCount)
}

func ServerStartup(serverType, protocol string, port int, args ...any) {
	emit(defaultLogger, slog.LevelInfo, "server_startup", args,
		"server_type", serverType, "protocol", protocol, "port", port)
}

// SecurityEvent logs rejected uploads, origins and credentials at warn.
func SecurityEvent(name, component string, args ...any) {
	emit(defaultLogger, slog.LevelWarn, "security_event", args,
		"event", name, "component", component)
}
