// Package arenadto holds the JSON envelopes exchanged over the realtime channels.
package arenadto

import "time"

// Inbound message types.
const (
	TypeFindGame     = "find_game"
	TypeCancelSearch = "cancel_search"
	TypeMove         = "move"
	TypeResign       = "resign"
	TypeDrawOffer    = "draw_offer"
	TypeDrawAccept   = "draw_accept"
	TypeDrawDecline  = "draw_decline"
	TypeChatMessage  = "chat_message"
	TypeCheckTimeout = "check_timeout"
)

// Outbound message types.
const (
	TypeWaitingForMatch     = "waiting_for_match"
	TypeMatchFound          = "match_found"
	TypeSearchCancelled     = "search_cancelled"
	TypeWaitingForOpponent  = "waiting_for_opponent"
	TypeGameStart           = "game_start"
	TypeMoveMade            = "move_made"
	TypeGameOver            = "game_over"
	TypeReconnected         = "reconnected"
	TypeOpponentReconnected = "opponent_reconnected"
	TypeDrawOfferDeclined   = "draw_offer_declined"
	TypeError               = "error"
)

// Inbound is the union of every client message; only the fields of Type are set.
type Inbound struct {
	Type           string `json:"type"`
	TimeControl    string `json:"time_control,omitempty"`
	TimeControlStr string `json:"time_control_str,omitempty"`
	UCI            string `json:"uci,omitempty"`
	Username       string `json:"username,omitempty"`
	Message        string `json:"message,omitempty"`
}

type Envelope struct {
	Type string `json:"type"`
}

type WaitingForMatch struct {
	Type        string `json:"type"`
	TimeControl string `json:"time_control"`
}

type MatchFound struct {
	Type   string `json:"type"`
	GameID string `json:"game_id"`
	Color  string `json:"color,omitempty"`
}

type GameStart struct {
	Type            string `json:"type"`
	GameID          string `json:"game_id"`
	InitialPosition string `json:"initial_position"`
	Color           string `json:"color"`
	YourTime        int    `json:"your_time"`
	OpponentTime    int    `json:"opponent_time"`
}

type MoveMade struct {
	Type      string `json:"type"`
	UCI       string `json:"uci"`
	SAN       string `json:"san"`
	Position  string `json:"position"`
	Turn      string `json:"turn"`
	WhiteTime int    `json:"white_time"`
	BlackTime int    `json:"black_time"`
}

type GameOver struct {
	Type        string `json:"type"`
	Result      string `json:"result"`
	Termination string `json:"termination"`
}

type Reconnected struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type OpponentReconnected struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type DrawOffer struct {
	Type string `json:"type"`
	From string `json:"from"`
}

type DrawOfferDeclined struct {
	Type string `json:"type"`
	From string `json:"from"`
}

type ChatMessage struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error { return Error{Type: TypeError, Message: message} }
