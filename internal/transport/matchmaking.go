package transport

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Matchmaking serves /ws/matchmaking.
func (s *Server) Matchmaking(c *gin.Context) {
	userID, idErr := s.cfg.Verifier.Identity(c.Request)
	conn, err := s.accept(c)
	if err != nil {
		s.logger.Debug("ws_accept_failed", zap.Error(err))
		return
	}
	if idErr != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "identity required")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	client := newClient(conn, s.cfg.SendBuffer, s.cfg.WriteTimeout, s.logger)
	go client.writePump(ctx)

	if prev := s.cfg.Lobby.Connect(userID, client); prev != nil && prev != client {
		prev.Close(registry.CloseGoingAway, "replaced by a newer connection")
	}
	s.logger.Debug("matchmaking_connected", zap.String("user_id", userID))

	defer func() {
		// A replaced connection must not cancel the search of its successor.
		if s.cfg.Lobby.Release(userID, client) {
			s.cfg.Queue.CancelAll(userID)
		}
		client.Close(int(websocket.StatusNormalClosure), "")
		s.logger.Debug("matchmaking_disconnected", zap.String("user_id", userID))
	}()

	s.readLoop(ctx, conn, client, func(in arenadto.Inbound) {
		s.handleMatchmaking(c.Request.Context(), userID, client, in)
	})
}

func (s *Server) handleMatchmaking(parent context.Context, userID string, client *Client, in arenadto.Inbound) {
	switch in.Type {
	case arenadto.TypeFindGame:
		p := matchmaking.QueuedPlayer{
			UserID:      userID,
			TimeControl: in.TimeControl,
			Category:    in.TimeControlStr,
		}
		ctx, cancel := opContext(parent)
		defer cancel()
		if s.cfg.Ratings != nil && in.TimeControlStr != "" {
			if prof, err := s.cfg.Ratings.GetProfile(ctx, userID); err == nil {
				p.Rating = prof.Rating(in.TimeControlStr)
			}
		}
		if _, _, err := s.cfg.Queue.Enqueue(ctx, p); err != nil {
			s.sendError(client, s.matchmakingErrorText(err, in))
		}
	case arenadto.TypeCancelSearch:
		s.cfg.Queue.Cancel(userID, in.TimeControl)
		_ = client.Send(arenadto.Envelope{Type: arenadto.TypeSearchCancelled})
	default:
		s.sendError(client, s.cfg.Catalog.Text("matchmaking.unknown_action", map[string]any{"Action": in.Type}))
	}
}

func (s *Server) matchmakingErrorText(err error, in arenadto.Inbound) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTimeControl):
		return s.cfg.Catalog.Text("matchmaking.invalid_time_control", map[string]any{"TimeControl": in.TimeControl})
	case errors.Is(err, matchmaking.ErrInvalidArgs):
		return s.cfg.Catalog.Text("matchmaking.missing_user", nil)
	default:
		s.logger.Error("matchmaking_failed", zap.Error(err))
		return s.cfg.Catalog.Text("error.internal", nil)
	}
}

func (s *Server) sendError(client *Client, text string) {
	_ = client.Send(arenadto.NewError(text))
}
