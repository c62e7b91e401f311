package transport

import (
	"context"
	"sync/atomic"
	"time"

	"arrowhead-go/internal/protocol"

	"go.uber.org/zap"
)

// Stats counts connection and exchange outcomes since the server started.
type Stats struct {
	accepted        atomic.Uint64
	closed          atomic.Uint64
	requests        atomic.Uint64
	responses       atomic.Uint64
	handlerFailures atomic.Uint64
	notFound        atomic.Uint64
	unsupported     atomic.Uint64
	internalError   atomic.Uint64
	badRequest      atomic.Uint64
	tooLarge        atomic.Uint64
}

type StatsSnapshot struct {
	Accepted             uint64 `json:"accepted"`
	Closed               uint64 `json:"closed"`
	Active               uint64 `json:"active"`
	Requests             uint64 `json:"requests"`
	Responses            uint64 `json:"responses"`
	HandlerFailures      uint64 `json:"handler_failures"`
	NotFound             uint64 `json:"not_found"`
	UnsupportedMediaType uint64 `json:"unsupported_media_type"`
	InternalError        uint64 `json:"internal_error"`
	BadRequest           uint64 `json:"bad_request"`
	TooLarge             uint64 `json:"too_large"`
}

func (s *Stats) terminal(status protocol.Status) {
	switch status {
	case protocol.StatusNotFound:
		s.notFound.Add(1)
	case protocol.StatusUnsupportedMediaType:
		s.unsupported.Add(1)
	case protocol.StatusInternalServerError:
		s.internalError.Add(1)
	case protocol.StatusBadRequest:
		s.badRequest.Add(1)
	case protocol.StatusContentTooLarge:
		s.tooLarge.Add(1)
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	accepted := s.accepted.Load()
	closed := s.closed.Load()
	snap := StatsSnapshot{
		Accepted:             accepted,
		Closed:               closed,
		Requests:             s.requests.Load(),
		Responses:            s.responses.Load(),
		HandlerFailures:      s.handlerFailures.Load(),
		NotFound:             s.notFound.Load(),
		UnsupportedMediaType: s.unsupported.Load(),
		InternalError:        s.internalError.Load(),
		BadRequest:           s.badRequest.Load(),
		TooLarge:             s.tooLarge.Load(),
	}
	if accepted > closed {
		snap.Active = accepted - closed
	}
	return snap
}

// reportStats logs what changed during each interval; quiet intervals are
// skipped.
func (s *Server) reportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last StatsSnapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := s.stats.Snapshot()
			if cur.Accepted == last.Accepted && cur.Requests == last.Requests && cur.Closed == last.Closed {
				continue
			}
			s.logger.Info("transport stats",
				zap.Uint64("accepted", cur.Accepted-last.Accepted),
				zap.Uint64("closed", cur.Closed-last.Closed),
				zap.Uint64("active", cur.Active),
				zap.Uint64("requests", cur.Requests-last.Requests),
				zap.Uint64("handler_failures", cur.HandlerFailures-last.HandlerFailures),
				zap.Uint64("not_found", cur.NotFound-last.NotFound),
				zap.Uint64("unsupported_media_type", cur.UnsupportedMediaType-last.UnsupportedMediaType),
				zap.Uint64("bad_request", cur.BadRequest-last.BadRequest),
				zap.Uint64("too_large", cur.TooLarge-last.TooLarge),
			)
			last = cur
		}
	}
}
