package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edupoint-crm/lead-engine/pkg/config"
	"github.com/edupoint-crm/lead-engine/pkg/middleware/requestid"
)

// New builds the process logger. Production gets sampled JSON output,
// everything else the development console setup; log level and encoding
// come from config with safe fallbacks.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Env == config.EnvProduction {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Log.Format == "console" {
		zc.Encoding = "console"
	} else {
		zc.Encoding = "json"
	}

	if cfg.Log.Level != "" {
		if err := zc.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zc.Build()
}

// GinMiddleware logs one line per request after the handler chain runs.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if id := requestid.Value(c); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		l.Info("http_request", fields...)
	}
}
