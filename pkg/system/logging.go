// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/fatih/color"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// LevelFor maps the CLI verbosity flags to a log level. Quiet wins over any
// verbosity and only lets errors through; without flags warnings are shown.
func LevelFor(quiet bool, verbosity int) zapcore.Level {
	switch {
	case quiet:
		return zapcore.ErrorLevel
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// NewLogger builds the CLI logger writing to w, which is stderr in the
// binary; stdout is reserved for the output of the command itself. Levels are
// colored only when color output is enabled.
func NewLogger(w io.Writer, quiet bool, verbosity int) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if !color.NoColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	sink := zapcore.Lock(zapcore.AddSync(w))
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, LevelFor(quiet, verbosity))

	opts := []zap.Option{zap.ErrorOutput(sink)}
	if verbosity >= 3 {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns a fallback sugared logger derived from the provided zap.Logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// ReqLoggerMiddleware stores a logger annotated with the remote address and
// path of the request in the gin context.
func ReqLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if base != nil {
			c.Set(ReqLoggerKey, EnrichReqLogger(c, base))
		}
		c.Next()
	}
}

// EnrichReqLogger annotates the logger with the request's remote address and path.
func EnrichReqLogger(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil || c.Request == nil {
		return reqLogger
	}
	reqLogger = reqLogger.With("remote", c.ClientIP(), "path", c.Request.URL.Path)
	// the query carries the authorization code, only its parameter names are logged
	reqLogger.Debugw("Callback request", "params", queryParamNames(c.Request.URL.Query()))
	return reqLogger
}

func queryParamNames(query url.Values) []string {
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// redactedValue replaces request data that must not reach the log.
const redactedValue = "[redacted]"

// redactingLogger hides the raw query ginzap attaches to each access log
// entry and the request dump of its recovery handler.
type redactingLogger struct {
	*zap.Logger
}

func (l redactingLogger) Info(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, redactFields(fields)...)
}

func (l redactingLogger) Error(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, redactFields(fields)...)
}

func redactFields(fields []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch f.Key {
		case "query":
			if f.String != "" {
				f = zap.String("query", redactedValue)
			}
		case "request":
			f = zap.String("request", redactedValue)
		}
		out = append(out, f)
	}
	return out
}

// AccessLogMiddleware logs every request through ginzap without its query.
func AccessLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return ginzap.GinzapWithConfig(redactingLogger{log}, &ginzap.Config{
		TimeFormat:   time.RFC3339,
		UTC:          true,
		DefaultLevel: zapcore.InfoLevel,
	})
}

// RecoveryMiddleware turns panics into 500 responses, logged without the
// request line.
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return ginzap.RecoveryWithZap(redactingLogger{log}, true)
}
