package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/auth"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/registry"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

// Close codes sent to rejected gameplay connections.
const (
	CloseGameNotFound   = 4004
	CloseNotParticipant = 4003
)

const opTimeout = 10 * time.Second

// Games is the orchestrator surface the gameplay socket drives.
type Games interface {
	Snapshot(gameID string) (*session.GameSession, error)
	Join(ctx context.Context, gameID, userID string, conn registry.Conn) error
	Leave(gameID, userID string, conn registry.Conn)
	SubmitMove(ctx context.Context, gameID, userID, uci string) error
	Resign(ctx context.Context, gameID, userID string) error
	OfferDraw(ctx context.Context, gameID, userID string) error
	AcceptDraw(ctx context.Context, gameID, userID string) error
	DeclineDraw(ctx context.Context, gameID, userID string) error
	CheckTimeout(ctx context.Context, gameID string) (bool, error)
	Chat(ctx context.Context, gameID, userID, username, message string) error
}

type Matchmaker interface {
	Enqueue(ctx context.Context, p matchmaking.QueuedPlayer) (string, bool, error)
	Cancel(userID, timeControl string)
	CancelAll(userID string)
}

// Lobby is the matchmaking registry.
type Lobby interface {
	Connect(userID string, conn registry.Conn) registry.Conn
	Release(userID string, conn registry.Conn) bool
}

// Ratings resolves the rating a player queues with.
type Ratings interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

type Config struct {
	Verifier *auth.Verifier
	Games    Games
	Queue    Matchmaker
	Lobby    Lobby
	Ratings  Ratings
	Catalog  *msgcat.Catalog

	SendBuffer     int
	WriteTimeout   time.Duration
	OriginPatterns []string
	Logger         *zap.Logger
}

type Server struct {
	cfg    Config
	logger *zap.Logger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Games == nil || cfg.Queue == nil || cfg.Lobby == nil {
		return nil, errors.New("transport: games, queue and lobby are required")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = auth.NewVerifier("")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = msgcat.Default()
	}
	return &Server{cfg: cfg, logger: obslog.Or(cfg.Logger)}, nil
}

// Register mounts the websocket routes.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws/matchmaking", s.Matchmaking)
	r.GET("/ws/game/:game_id", s.Game)
}

func (s *Server) accept(c *gin.Context) (*websocket.Conn, error) {
	return websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
}

// opContext detaches orchestrator calls from the socket so a client
// hanging up mid-move cannot abort a finalize.
func opContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), opTimeout)
}

// readLoop decodes inbound frames until the socket fails or ctx ends.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, handle func(arenadto.Inbound)) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var in arenadto.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = client.Send(arenadto.NewError(s.cfg.Catalog.Text("error.bad_payload", nil)))
			continue
		}
		handle(in)
		if client.closed() {
			return
		}
	}
}
