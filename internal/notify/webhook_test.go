package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

func finished() store.FinalizedGame {
	return store.FinalizedGame{
		GameID:      "g1",
		Result:      domain.ResultWhiteWin,
		Termination: domain.Checkmate,
		PGN:         "1. e4 1-0",
		EndTime:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		White:       store.ProfileUpdate{UserID: "alice"},
		Black:       store.ProfileUpdate{UserID: "bob"},
	}
}

func TestGameOverPostsPayload(t *testing.T) {
	var got GameOverPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-Arena-Key") != "k" {
			t.Errorf("unexpected request %s %v", r.Method, r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Arena-Key": "k"}
	}))
	if err := hook.GameOver(context.Background(), finished()); err != nil {
		t.Fatalf("game over: %v", err)
	}
	if got.GameID != "g1" || got.WhiteID != "alice" || got.BlackID != "bob" || got.Result != "white_win" || got.Termination != "checkmate" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestGameOverRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL, WithRetry(3)).GameOver(context.Background(), finished()); err != nil {
		t.Fatalf("game over: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestGameOverDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewWebhook(srv.URL).GameOver(context.Background(), finished()); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestEmptyURLIsNoop(t *testing.T) {
	if err := NewWebhook("").GameOver(context.Background(), finished()); err != nil {
		t.Fatalf("noop webhook: %v", err)
	}
}
