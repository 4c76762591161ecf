package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/puzzle"
	"github.com/park285/cheese-arena/internal/render"
	"github.com/park285/cheese-arena/internal/store"
)

func (a *api) fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// internal logs err and answers 500.
func (a *api) internal(c *gin.Context, op string, err error) {
	a.logger.Error("http_"+op+"_failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	a.fail(c, http.StatusInternalServerError, "internal error")
}

// lookupGame prefers the live session and falls back to durable storage.
func (a *api) lookupGame(c *gin.Context) (gameView, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if a.Live != nil {
		if s, err := a.Live.Snapshot(id); err == nil {
			return liveView(s), true
		} else if !errors.Is(err, game.ErrGameNotFound) {
			a.internal(c, "snapshot", err)
			return gameView{}, false
		}
	}
	g, err := a.Games.GetGame(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		a.fail(c, http.StatusNotFound, "game not found")
		return gameView{}, false
	}
	if err != nil {
		a.internal(c, "get_game", err)
		return gameView{}, false
	}
	return storedView(g), true
}

func (a *api) getGame(c *gin.Context) {
	v, ok := a.lookupGame(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v)
}

func (a *api) getBoard(c *gin.Context) {
	v, ok := a.lookupGame(c)
	if !ok {
		return
	}
	opts := render.Options{Flip: strings.EqualFold(c.Query("as"), "black")}
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.fail(c, http.StatusBadRequest, "size must be an integer")
			return
		}
		opts.Size = n
	}
	if n := len(v.MovesUCI); n > 0 {
		opts.LastMove = v.MovesUCI[n-1]
	}
	png, err := render.RenderPNG(c.Request.Context(), v.FEN, opts)
	if err != nil {
		a.internal(c, "render", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (a *api) listGames(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	page, err := queryInt(c, "page", 1)
	if err != nil {
		a.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := queryInt(c, "page_size", 10)
	if err != nil {
		a.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	page, size = store.Normalize(page, size)

	res, err := a.Games.ListGames(c.Request.Context(), userID, page, size)
	if err != nil {
		a.internal(c, "list_games", err)
		return
	}
	out := gamePage{
		Games:      make([]gameSummary, 0, len(res.Games)),
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalPages: res.TotalPages,
		TotalGames: res.TotalGames,
	}
	for _, g := range res.Games {
		out.Games = append(out.Games, summarize(g, userID))
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) getProfile(c *gin.Context) {
	p, err := a.Profiles.GetProfile(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		a.internal(c, "get_profile", err)
		return
	}
	c.JSON(http.StatusOK, profileView{
		UserID:         p.UserID,
		DisplayName:    p.DisplayName,
		Ratings:        p.Ratings,
		TotalGames:     p.TotalGames,
		Wins:           p.Wins,
		Losses:         p.Losses,
		Draws:          p.Draws,
		ActivePuzzleID: p.ActivePuzzleID,
		MemberSince:    p.MemberSince,
		LastActive:     p.LastActive,
	})
}

func (a *api) getPuzzle(c *gin.Context) {
	p, err := a.Trainer.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		a.fail(c, http.StatusNotFound, "puzzle not found")
		return
	}
	if err != nil {
		a.internal(c, "get_puzzle", err)
		return
	}
	c.JSON(http.StatusOK, puzzleView{
		ID:          p.ID,
		FEN:         p.FEN,
		Moves:       p.Moves,
		Rating:      p.Rating,
		Popularity:  p.Popularity,
		TimesPlayed: p.TimesPlayed,
		Themes:      p.Themes,
		GameURL:     p.GameURL,
	})
}

func (a *api) refreshPuzzle(c *gin.Context) {
	id, err := a.Trainer.Refresh(c.Request.Context(), auth.UserID(c))
	if errors.Is(err, puzzle.ErrNoPuzzle) {
		a.fail(c, http.StatusNotFound, "no puzzle found")
		return
	}
	if err != nil {
		a.internal(c, "refresh_puzzle", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_puzzle_id": id})
}

type solveRequest struct {
	Success *bool `json:"success" binding:"required"`
}

func (a *api) solvePuzzle(c *gin.Context) {
	var req solveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, http.StatusBadRequest, "success is required")
		return
	}
	res, err := a.Trainer.Solve(c.Request.Context(), auth.UserID(c), c.Param("id"), *req.Success)
	if errors.Is(err, store.ErrNotFound) {
		a.fail(c, http.StatusNotFound, "puzzle not found")
		return
	}
	if err != nil {
		a.internal(c, "solve_puzzle", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) puzzleStats(c *gin.Context) {
	st, err := a.Trainer.Stats(c.Request.Context(), auth.UserID(c))
	if err != nil {
		a.internal(c, "puzzle_stats", err)
		return
	}
	c.JSON(http.StatusOK, statsView(st))
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}
