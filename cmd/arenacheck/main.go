package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type peer struct {
	name string
	conn *websocket.Conn
}

func main() {
	baseURL := strings.TrimRight(os.Getenv("ARENA_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	tc := os.Getenv("ARENA_TIME_CONTROL")
	if tc == "" {
		tc = "3+2"
	}
	wsBase := "ws" + strings.TrimPrefix(baseURL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	_ = resp.Body.Close()
	log.Printf("/healthz status=%d", resp.StatusCode)

	suffix := fmt.Sprint(time.Now().UnixNano())
	white := dial(ctx, "check-w-"+suffix, wsBase+"/ws/matchmaking?user_id=check-w-"+suffix)
	black := dial(ctx, "check-b-"+suffix, wsBase+"/ws/matchmaking?user_id=check-b-"+suffix)

	white.send(ctx, map[string]any{"type": "find_game", "time_control": tc})
	white.await(ctx, "waiting_for_match")
	black.send(ctx, map[string]any{"type": "find_game", "time_control": tc})
	found := black.await(ctx, "match_found")
	white.await(ctx, "match_found")
	gameID := fmt.Sprint(found["game_id"])
	log.Printf("matched game_id=%s", gameID)
	white.close()
	black.close()

	// The earlier searcher plays white.
	gw := dial(ctx, white.name, wsBase+"/ws/game/"+gameID+"?user_id="+white.name)
	gb := dial(ctx, black.name, wsBase+"/ws/game/"+gameID+"?user_id="+black.name)
	defer gw.close()
	defer gb.close()
	start := gb.await(ctx, "game_start")
	log.Printf("game_start color=%v your_time=%v", start["color"], start["your_time"])

	gw.send(ctx, map[string]any{"type": "move", "uci": "e2e4"})
	mv := gb.await(ctx, "move_made")
	log.Printf("move_made san=%v white_time=%v black_time=%v", mv["san"], mv["white_time"], mv["black_time"])

	gb.send(ctx, map[string]any{"type": "resign"})
	over := gw.await(ctx, "game_over")
	log.Printf("game_over result=%v termination=%v", over["result"], over["termination"])
}

func dial(ctx context.Context, name, url string) *peer {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		log.Fatalf("%s: dial %s: %v", name, url, err)
	}
	return &peer{name: name, conn: conn}
}

func (p *peer) send(ctx context.Context, msg map[string]any) {
	if err := wsjson.Write(ctx, p.conn, msg); err != nil {
		log.Fatalf("%s: write: %v", p.name, err)
	}
}

// await skips messages until one of typ arrives.
func (p *peer) await(ctx context.Context, typ string) map[string]any {
	for {
		var msg map[string]any
		if err := wsjson.Read(ctx, p.conn, &msg); err != nil {
			log.Fatalf("%s: waiting for %s: %v", p.name, typ, err)
		}
		if msg["type"] == "error" {
			log.Printf("%s: server error: %v", p.name, msg["message"])
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func (p *peer) close() {
	_ = p.conn.Close(websocket.StatusNormalClosure, "")
}
