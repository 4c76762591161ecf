package registry

import (
	"go.uber.org/zap"
)

// GameKey identifies one participant's connection to one game.
type GameKey struct {
	GameID string
	UserID string
}

// GameRegistry is the gameplay-scoped registry.
type GameRegistry struct {
	*Registry[GameKey]

	// participants indexes user ids per game for broadcast.
	participants map[string]map[string]struct{}
}

func NewGameRegistry(logger *zap.Logger) *GameRegistry {
	return &GameRegistry{
		Registry:     New[GameKey]("game", logger),
		participants: make(map[string]map[string]struct{}),
	}
}

func (g *GameRegistry) Connect(key GameKey, conn Conn) Conn {
	g.mu.Lock()
	prev := g.conns[key]
	g.conns[key] = conn
	users, ok := g.participants[key.GameID]
	if !ok {
		users = make(map[string]struct{}, 2)
		g.participants[key.GameID] = users
	}
	users[key.UserID] = struct{}{}
	g.mu.Unlock()
	return prev
}

func (g *GameRegistry) Disconnect(key GameKey) {
	g.mu.Lock()
	g.removeLocked(key)
	g.mu.Unlock()
}

func (g *GameRegistry) Release(key GameKey, conn Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.conns[key]; ok && cur == conn {
		g.removeLocked(key)
		return true
	}
	return false
}

func (g *GameRegistry) removeLocked(key GameKey) {
	delete(g.conns, key)
	if users, ok := g.participants[key.GameID]; ok {
		delete(users, key.UserID)
		if len(users) == 0 {
			delete(g.participants, key.GameID)
		}
	}
}

// Connected reports whether userID has a live connection to gameID.
func (g *GameRegistry) Connected(gameID, userID string) bool {
	_, ok := g.Get(GameKey{GameID: gameID, UserID: userID})
	return ok
}

// Send delivers msg to one participant. Failure is handled like Registry.Send.
func (g *GameRegistry) Send(key GameKey, msg any) bool {
	delivered, _ := g.Deliver(key, msg)
	return delivered
}

// Deliver reports whether msg was handed off and whether a failed send
// removed the registered connection.
func (g *GameRegistry) Deliver(key GameKey, msg any) (delivered, dropped bool) {
	conn, ok := g.Get(key)
	if !ok {
		return false, false
	}
	if err := conn.Send(msg); err != nil {
		g.logger.Warn("registry_send_failed",
			zap.String("registry", g.name),
			zap.String("game_id", key.GameID),
			zap.String("user_id", key.UserID),
			zap.Error(err),
		)
		if g.Release(key, conn) {
			conn.Close(CloseGoingAway, "send failed")
			return false, true
		}
		return false, false
	}
	return true, false
}

// BroadcastToGame sends msg to every connected participant of gameID. It
// returns the users whose connection failed and was dropped, so the caller
// can record them as disconnected.
func (g *GameRegistry) BroadcastToGame(gameID string, msg any) []string {
	g.mu.RLock()
	users := make([]string, 0, len(g.participants[gameID]))
	for u := range g.participants[gameID] {
		users = append(users, u)
	}
	g.mu.RUnlock()

	var dropped []string
	for _, u := range users {
		if _, removed := g.Deliver(GameKey{GameID: gameID, UserID: u}, msg); removed {
			dropped = append(dropped, u)
		}
	}
	return dropped
}
