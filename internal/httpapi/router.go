// Package httpapi is the REST surface next to the realtime sockets.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/puzzle"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/store"
)

// LiveGames exposes live sessions.
type LiveGames interface {
	Snapshot(gameID string) (*session.GameSession, error)
}

type Trainer interface {
	Get(ctx context.Context, id string) (*domain.Puzzle, error)
	Refresh(ctx context.Context, userID string) (string, error)
	Solve(ctx context.Context, userID, puzzleID string, success bool) (puzzle.SolveResult, error)
	Stats(ctx context.Context, userID string) (domain.SolveStats, error)
}

// Sockets mounts the websocket routes.
type Sockets interface {
	Register(r gin.IRoutes)
}

type Deps struct {
	Live     LiveGames
	Games    store.GameRepository
	Profiles store.ProfileRepository
	Trainer  Trainer
	Verifier *auth.Verifier
	Sockets  Sockets
	Logger   *zap.Logger
}

type api struct {
	Deps
	logger *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Verifier == nil {
		d.Verifier = auth.NewVerifier("")
	}
	a := &api{Deps: d, logger: obslog.Or(d.Logger)}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.logger))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/games/:id", a.getGame)
	r.GET("/games/:id/board.png", a.getBoard)
	r.GET("/users/:id/games", a.listGames)
	r.GET("/profiles/:id", a.getProfile)

	p := r.Group("/puzzles")
	p.GET("/:id", a.getPuzzle)
	authed := p.Group("", auth.Middleware(d.Verifier))
	authed.POST("/refresh", a.refreshPuzzle)
	authed.POST("/:id/solve", a.solvePuzzle)
	authed.GET("/stats", a.puzzleStats)

	if d.Sockets != nil {
		d.Sockets.Register(r)
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Writer.Status() == 101 {
			return
		}
		logger.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
