package transport

import (
	"arrowhead-go/internal/http1"

	"go.uber.org/zap"
)

func connFields(c *conn) []zap.Field {
	if c == nil {
		return []zap.Field{
			zap.Int64("conn_id", 0),
			zap.String("remote", ""),
		}
	}
	return []zap.Field{
		zap.Int64("conn_id", c.id),
		zap.String("remote", c.remote),
	}
}

func headFields(h *http1.RequestHead) []zap.Field {
	if h == nil {
		return []zap.Field{
			zap.String("method", ""),
			zap.String("path", ""),
		}
	}
	return []zap.Field{
		zap.String("method", h.Method.String()),
		zap.String("path", h.Target),
	}
}
