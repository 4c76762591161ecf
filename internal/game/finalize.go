package game

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
)

const notifyTimeout = 5 * time.Second

// finalize moves s into its terminal state, persists the outcome, and tells
// both participants. The caller holds the game lock.
func (o *Orchestrator) finalize(ctx context.Context, s *session.GameSession, result domain.Result, termination domain.Termination) error {
	now := o.now()
	s.Status = domain.Status(termination)
	s.Result = result
	s.EndedAt = &now
	s.DrawOfferBy = ""
	if s.Opening == "" && len(s.MovesUCI) > 0 {
		if board, err := rules.Replay(s.MovesUCI); err == nil {
			if eco, title := board.Opening(); title != "" {
				s.Opening = strings.TrimSpace(eco + " " + title)
			}
		}
	}

	record := o.finalizedRecord(s, now)
	if err := o.sessions.Save(s); err != nil {
		o.logger.Error("session_save_failed", zap.String("game_id", s.GameID), zap.Error(err))
	}

	if err := o.games.FinalizeGame(ctx, record); err != nil {
		o.logger.Error("finalize_failed",
			zap.String("game_id", s.GameID),
			zap.String("result", string(result)),
			zap.String("termination", string(termination)),
			zap.Error(err),
		)
		o.enqueue(ctx, record)
	} else {
		o.logger.Info("game_finalized",
			zap.String("game_id", s.GameID),
			zap.String("result", string(result)),
			zap.String("termination", string(termination)),
			zap.Int("white_delta", record.WhiteRatingChange),
			zap.Int("black_delta", record.BlackRatingChange),
		)
		o.notify(record)
	}

	o.conns.BroadcastToGame(s.GameID, gameOverMessage(s))
	o.sessions.MarkTerminal(s.GameID)
	return nil
}

func (o *Orchestrator) finalizedRecord(s *session.GameSession, end time.Time) store.FinalizedGame {
	dw, db := rating.GameDeltas(s.WhiteRating, s.BlackRating, s.Result, rating.GameKFactor)
	termination := domain.Termination(s.Status)
	pgn := rules.BuildPGN(rules.PGNHeader{
		WhiteID:     s.WhiteID,
		BlackID:     s.BlackID,
		TimeControl: s.TimeControl,
		Termination: termination,
		Result:      s.Result,
		Opening:     s.Opening,
		Date:        s.StartedAt,
	}, s.MovesSAN)

	return store.FinalizedGame{
		GameID:            s.GameID,
		Result:            s.Result,
		Termination:       termination,
		FinalFEN:          s.CurrentFEN,
		MovesUCI:          append([]string(nil), s.MovesUCI...),
		MovesSAN:          append([]string(nil), s.MovesSAN...),
		PGN:               pgn,
		Opening:           s.Opening,
		WhiteRatingChange: dw,
		BlackRatingChange: db,
		EndTime:           end,
		White: store.ProfileUpdate{
			UserID:      s.WhiteID,
			Category:    s.Category,
			RatingDelta: dw,
			Outcome:     domain.OutcomeFor(s.Result, domain.White),
		},
		Black: store.ProfileUpdate{
			UserID:      s.BlackID,
			Category:    s.Category,
			RatingDelta: db,
			Outcome:     domain.OutcomeFor(s.Result, domain.Black),
		},
	}
}

// enqueue hands a rejected finalize to the outbox. Without one the full
// record goes to the error log so the outcome is never silently lost.
func (o *Orchestrator) enqueue(ctx context.Context, record store.FinalizedGame) {
	if o.outbox != nil {
		err := o.outbox.Push(ctx, record)
		if err == nil {
			o.logger.Warn("finalize_queued", zap.String("game_id", record.GameID))
			return
		}
		o.logger.Error("finalize_queue_failed", zap.String("game_id", record.GameID), zap.Error(err))
	}
	o.logger.Error("finalize_lost", zap.String("game_id", record.GameID), zap.Any("record", record))
}

func (o *Orchestrator) notify(record store.FinalizedGame) {
	if o.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.notifier.GameOver(ctx, record); err != nil {
			o.logger.Warn("game_over_notify_failed", zap.String("game_id", record.GameID), zap.Error(err))
		}
	}()
}

// Replay applies a finalize record straight to storage. The outbox drains through it.
func (o *Orchestrator) Replay(ctx context.Context, record store.FinalizedGame) error {
	if err := o.games.FinalizeGame(ctx, record); err != nil {
		return err
	}
	o.notify(record)
	return nil
}
