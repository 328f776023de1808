// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// published is one recorded Publish call.
type published struct {
	Topic   string
	Payload []byte
}

// mockPublisher records publishes for test assertions. When down is set it
// drops messages silently, like a broker connection in the middle of a
// reconnect.
type mockPublisher struct {
	mu       sync.Mutex
	messages []published
	dropped  int
	down     bool
}

func (m *mockPublisher) Publish(topic string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		m.dropped++
		return
	}
	m.messages = append(m.messages, published{Topic: topic, Payload: append([]byte(nil), payload...)})
}

func (m *mockPublisher) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *mockPublisher) Messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]published, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *mockPublisher) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *mockPublisher) Topics() []string {
	var topics []string
	for _, msg := range m.Messages() {
		topics = append(topics, msg.Topic)
	}
	return topics
}

// fakeRooms resolves canonical aliases from a map. Rooms listed in Fail
// return an error.
type fakeRooms struct {
	mu      sync.Mutex
	Aliases map[id.RoomID]id.RoomAlias
	Fail    map[id.RoomID]bool
	lookups int
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		Aliases: make(map[id.RoomID]id.RoomAlias),
		Fail:    make(map[id.RoomID]bool),
	}
}

func (f *fakeRooms) CanonicalAlias(_ context.Context, roomID id.RoomID) (id.RoomAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.Fail[roomID] {
		return "", errors.New("fake homeserver error")
	}
	return f.Aliases[roomID], nil
}

func (f *fakeRooms) SetAlias(roomID id.RoomID, alias id.RoomAlias) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aliases[roomID] = alias
}

func (f *fakeRooms) Lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

// fakeSession replays Events through the registered handler when
// SyncForever is called, then returns SyncErr. Raw holds the sync bytes
// handed along with an event, keyed by event ID.
type fakeSession struct {
	Events  []*event.Event
	Raw     map[id.EventID]json.RawMessage
	SyncErr error

	handler      MessageHandler
	registeredAt int
	calls        int
}

func (f *fakeSession) OnRoomMessage(handler MessageHandler) {
	f.calls++
	f.registeredAt = f.calls
	f.handler = handler
}

func (f *fakeSession) SyncForever(ctx context.Context) error {
	f.calls++
	for _, evt := range f.Events {
		if f.handler != nil {
			f.handler(ctx, evt, f.Raw[evt.ID])
		}
	}
	return f.SyncErr
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of lane goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// logLines decodes the JSON log lines written so far.
func (s *syncBuffer) logLines(t *testing.T) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		lines = append(lines, entry)
	}
	return lines
}

// hasLog reports whether a line with the given level and message was logged.
func (s *syncBuffer) hasLog(t *testing.T, level, message string) bool {
	t.Helper()
	for _, entry := range s.logLines(t) {
		if entry["level"] == level && entry["message"] == message {
			return true
		}
	}
	return false
}

func newTestLogger() (zerolog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return zerolog.New(buf).Level(zerolog.DebugLevel), buf
}

// newTestBridge returns an attached bridge with fresh fakes.
func newTestBridge() (*Bridge, *mockPublisher, *fakeRooms, *syncBuffer) {
	log, buf := newTestLogger()
	pub := &mockPublisher{}
	rooms := newFakeRooms()
	b := New(log)
	b.Attach(pub, rooms)
	return b, pub, rooms, buf
}

// makeMessageEvent builds a timeline event the way the syncer delivers it:
// raw content bytes plus parsed content.
func makeMessageEvent(t *testing.T, roomID id.RoomID, eventID id.EventID, content map[string]any) *event.Event {
	t.Helper()
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	evt := &event.Event{
		Type:      event.EventMessage,
		RoomID:    roomID,
		ID:        eventID,
		Sender:    id.UserID("@alice:example.org"),
		Timestamp: 1700000000000,
		Content:   event.Content{VeryRaw: raw},
	}
	if err := evt.Content.ParseRaw(event.EventMessage); err != nil {
		t.Fatalf("parse content: %v", err)
	}
	return evt
}

func textContent(body string) map[string]any {
	return map[string]any{"msgtype": "m.text", "body": body}
}
