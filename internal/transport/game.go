package transport

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Game serves /ws/game/:game_id.
func (s *Server) Game(c *gin.Context) {
	gameID := c.Param("game_id")
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
	if code, reason, ok := s.admit(gameID, userID); !ok {
		_ = conn.Close(code, reason)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	client := newClient(conn, s.cfg.SendBuffer, s.cfg.WriteTimeout, s.logger)

	jctx, jcancel := opContext(ctx)
	err = s.cfg.Games.Join(jctx, gameID, userID, client)
	jcancel()
	if err != nil {
		s.cfg.Games.Leave(gameID, userID, client)
		code, reason := closeFor(err)
		_ = conn.Close(code, reason)
		s.logger.Warn("game_join_failed", zap.String("game_id", gameID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	// Messages queued by Join are flushed once the pump starts.
	go client.writePump(ctx)
	s.logger.Debug("game_connected", zap.String("game_id", gameID), zap.String("user_id", userID))

	defer func() {
		s.cfg.Games.Leave(gameID, userID, client)
		client.Close(int(websocket.StatusNormalClosure), "")
		s.logger.Debug("game_disconnected", zap.String("game_id", gameID), zap.String("user_id", userID))
	}()

	s.readLoop(ctx, conn, client, func(in arenadto.Inbound) {
		s.handleGame(ctx, gameID, userID, client, in)
	})
}

// admit checks the game exists and userID plays in it.
func (s *Server) admit(gameID, userID string) (websocket.StatusCode, string, bool) {
	snap, err := s.cfg.Games.Snapshot(gameID)
	if err != nil {
		code, reason := closeFor(err)
		return code, reason, false
	}
	if _, ok := snap.ColorOf(userID); !ok {
		return CloseNotParticipant, "not a participant", false
	}
	return 0, "", true
}

func closeFor(err error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		return CloseGameNotFound, "game not found"
	case errors.Is(err, game.ErrNotParticipant):
		return CloseNotParticipant, "not a participant"
	default:
		return websocket.StatusInternalError, "internal error"
	}
}

func (s *Server) handleGame(parent context.Context, gameID, userID string, client *Client, in arenadto.Inbound) {
	ctx, cancel := opContext(parent)
	defer cancel()

	var err error
	switch in.Type {
	case arenadto.TypeMove:
		err = s.cfg.Games.SubmitMove(ctx, gameID, userID, in.UCI)
	case arenadto.TypeResign:
		err = s.cfg.Games.Resign(ctx, gameID, userID)
	case arenadto.TypeDrawOffer:
		err = s.cfg.Games.OfferDraw(ctx, gameID, userID)
	case arenadto.TypeDrawAccept:
		err = s.cfg.Games.AcceptDraw(ctx, gameID, userID)
	case arenadto.TypeDrawDecline:
		err = s.cfg.Games.DeclineDraw(ctx, gameID, userID)
	case arenadto.TypeChatMessage:
		err = s.cfg.Games.Chat(ctx, gameID, userID, in.Username, in.Message)
	case arenadto.TypeCheckTimeout:
		_, err = s.cfg.Games.CheckTimeout(ctx, gameID)
	default:
		err = game.ErrUnknownMessage
	}
	if err == nil {
		return
	}
	if game.IsConflict(err) {
		s.logger.Debug("game_action_ignored",
			zap.String("game_id", gameID),
			zap.String("user_id", userID),
			zap.String("type", in.Type),
			zap.Error(err),
		)
		return
	}
	s.sendError(client, s.gameErrorText(err, in))
}

var gameErrorKeys = []struct {
	err error
	key string
}{
	{game.ErrGameNotFound, "error.game_not_found"},
	{game.ErrNotParticipant, "error.not_participant"},
	{game.ErrPaused, "error.paused"},
	{game.ErrNotYourTurn, "error.not_your_turn"},
	{game.ErrMissingMove, "error.missing_move"},
	{game.ErrMalformedMove, "error.malformed_move"},
	{game.ErrIllegalMove, "error.illegal_move"},
	{game.ErrEmptyChat, "error.empty_chat"},
	{game.ErrUnknownMessage, "error.unknown_message"},
}

func (s *Server) gameErrorText(err error, in arenadto.Inbound) string {
	data := map[string]any{"Move": in.UCI, "Type": in.Type}
	for _, m := range gameErrorKeys {
		if errors.Is(err, m.err) {
			return s.cfg.Catalog.Text(m.key, data)
		}
	}
	s.logger.Error("game_action_failed", zap.String("type", in.Type), zap.Error(err))
	return s.cfg.Catalog.Text("error.internal", nil)
}
