package middleware

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type LoggingMiddleware struct {
	logger        types.Logger
	metrics       types.MetricsManager
	loggingConfig *LoggingConfig
}

type LoggingConfig struct {
	LogLevel   string `json:"log_level"`
	LogHeaders bool   `json:"log_headers"`
	LogBody    bool   `json:"log_body"`
}

func NewLoggingMiddleware(env Env, params map[string]interface{}) (types.Middleware, error) {
	loggingConfig := &LoggingConfig{
		LogLevel:   "info",
		LogHeaders: false,
		LogBody:    false,
	}

	if params != nil {
		if err := utils.UnmarshalConfig(params, loggingConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logging middleware config")
		}
	}

	return &LoggingMiddleware{
		logger:        env.Logger,
		metrics:       env.Metrics,
		loggingConfig: loggingConfig,
	}, nil
}

func (l *LoggingMiddleware) Name() string { return "logging" }

func (l *LoggingMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	start := time.Now()

	l.logRequest(req)

	err := exec.Next()

	duration := time.Since(start)
	l.logResponse(req, res, err, duration)
	l.recordMetrics(req, res, err, duration)

	return err
}

func (l *LoggingMiddleware) logRequest(req *types.Request) {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("remote_addr", req.RemoteAddr),
	}

	if len(req.Query) > 0 {
		fields = append(fields, zap.Any("query", req.Query))
	}

	if requestID := req.Header("X-Request-ID"); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogHeaders {
		fields = append(fields, zap.Any("headers", req.Headers))
	}

	l.logWithLevel("Request started", fields...)
}

func (l *LoggingMiddleware) logResponse(req *types.Request, res *types.Response, err error, duration time.Duration) {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", res.Status()),
		zap.Duration("duration", duration),
	}

	if requestID := req.Header("X-Request-ID"); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogBody && res.BodyLen() > 0 {
		body := res.BodyBytes()
		if len(body) > 1000 {
			fields = append(fields, zap.String("response", string(body[:1000])+"..."))
			fields = append(fields, zap.Int("response_body_truncated", len(body)))
		} else {
			fields = append(fields, zap.String("response", string(body)))
		}
	}

	switch {
	case err != nil:
		l.logger.Error("Request failed", append(fields, zap.Error(err))...)
	case res.Status() >= 500:
		l.logger.Error("Request completed", fields...)
	case res.Status() >= 400:
		l.logger.Warn("Request completed", fields...)
	default:
		l.logWithLevel("Request completed", fields...)
	}
}

func (l *LoggingMiddleware) recordMetrics(req *types.Request, res *types.Response, err error, duration time.Duration) {
	if l.metrics == nil {
		return
	}

	status := res.Status()
	if err != nil {
		status = types.StatusInternalServerError
	}

	labels := map[string]string{
		"method": req.Method,
		"status": strconv.Itoa(status),
	}

	l.metrics.Counter("http_requests_total", labels).Inc()
	l.metrics.Histogram("http_request_duration_seconds", nil, map[string]string{
		"method": req.Method,
	}).ObserveDuration(time.Now().Add(-duration))
}

func (l *LoggingMiddleware) logWithLevel(msg string, fields ...zap.Field) {
	switch l.loggingConfig.LogLevel {
	case "debug":
		l.logger.Debug(msg, fields...)
	case "warn":
		l.logger.Warn(msg, fields...)
	case "error":
		l.logger.Error(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}
