package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestBotClientPostToSession(t *testing.T) {
	var gotPath string
	var got SessionMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBotClient(srv.URL+"/", zap.NewNop())
	err := c.PostToSession(context.Background(), "chan-1", SessionMessage{
		Type:    "payment_progress",
		Text:    "🟩🟩🟩⬜⬜⬜",
		Payload: map[string]any{"confirmations": 3},
	})
	if err != nil {
		t.Fatalf("PostToSession: %v", err)
	}
	if gotPath != "/internal/sessions/chan-1/messages" {
		t.Errorf("path = %s", gotPath)
	}
	if got.Type != "payment_progress" || got.Text != "🟩🟩🟩⬜⬜⬜" {
		t.Errorf("message = %+v", got)
	}
}

func TestBotClientErrorsAreTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewBotClient(srv.URL, zap.NewNop())
	if err := c.CloseSession(context.Background(), "chan-1", "released"); !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}
