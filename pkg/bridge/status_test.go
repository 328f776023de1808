// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"maunium.net/go/mautrix/id"
)

func TestHandleStatus(t *testing.T) {
	t.Parallel()
	b, _, rooms, _ := newTestBridge()
	roomID := id.RoomID("!r:example.org")
	rooms.SetAlias(roomID, "#r:example.org")
	b.MarkConnecting()
	b.setState(StateForwarding)

	b.HandleEvent(context.Background(), makeMessageEvent(t, roomID, "$1", textContent("hi")), nil)
	b.HandleEvent(context.Background(), makeMessageEvent(t, roomID, "$2", map[string]any{"msgtype": "m.file", "body": "f"}), nil)
	b.Wait()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	b.HandleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "forwarding" {
		t.Errorf("state: got %q, want forwarding", resp.State)
	}
	want := Stats{Events: 2, RawPublished: 2, TextPublished: 1, Skipped: 1}
	if resp.Stats != want {
		t.Errorf("stats: got %+v, want %+v", resp.Stats, want)
	}
	if resp.ActiveRooms != 0 {
		t.Errorf("active rooms: got %d, want 0", resp.ActiveRooms)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	t.Parallel()
	b, _, _, _ := newTestBridge()

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	w := httptest.NewRecorder()
	b.HandleStatus(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestNewStatusServerRoutes(t *testing.T) {
	t.Parallel()
	b, _, _, _ := newTestBridge()
	server := b.NewStatusServer("127.0.0.1:0")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	w = httptest.NewRecorder()
	server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown path: got %d, want %d", w.Code, http.StatusNotFound)
	}
}
