package http

import (
	"net/http"
	"time"

	"math-quiz-service/internal/domain"
)

const wsWriteTimeout = 10 * time.Second

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeLeaderboardWS upgrades the request and streams leaderboard snapshots
// until the client disconnects. Inbound messages are ignored.
func (h *Handler) ServeLeaderboardWS(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", h.reports.FeedLimit())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 || limit > h.reports.FeedLimit() {
		limit = h.reports.FeedLimit()
	}
	logger := loggerFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel, err := h.reports.SubscribeLeaderboard(r.Context())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[domain.Leaderboard], 4)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only this goroutine writes to conn.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.WarnContext(r.Context(), "ws write failed", "error", err)
				// unblock the read loop
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case lb, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[domain.Leaderboard]{Type: "leaderboard", Payload: trimLeaderboard(lb, limit)}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func trimLeaderboard(lb domain.Leaderboard, limit int) domain.Leaderboard {
	if len(lb.Entries) > limit {
		lb.Entries = lb.Entries[:limit]
	}
	if lb.Entries == nil {
		lb.Entries = []domain.LeaderboardEntry{}
	}
	return lb
}
