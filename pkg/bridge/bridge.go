// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrNotAttached is returned by Run when Attach was not called.
var ErrNotAttached = errors.New("bridge has no publisher or room resolver attached")

// Publisher is the fire-and-forget publish operation of a broker connection.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// RoomResolver looks up the canonical alias of a room. An empty alias with a
// nil error means the room has none.
type RoomResolver interface {
	CanonicalAlias(ctx context.Context, roomID id.RoomID) (id.RoomAlias, error)
}

// MessageHandler receives a room message together with the event JSON
// exactly as the homeserver sent it. raw is nil when the bytes could not be
// captured.
type MessageHandler = func(ctx context.Context, evt *event.Event, raw json.RawMessage)

// Session is the chat side of the bridge.
type Session interface {
	OnRoomMessage(handler MessageHandler)
	SyncForever(ctx context.Context) error
}

// State is the lifecycle state of the bridge.
type State int32

const (
	StateUnconfigured State = iota
	StateConnecting
	StateForwarding
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConnecting:
		return "connecting"
	case StateForwarding:
		return "forwarding"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats counts what the bridge has done since start.
type Stats struct {
	Events         int64 `json:"events"`
	RawPublished   int64 `json:"raw_published"`
	TextPublished  int64 `json:"text_published"`
	Skipped        int64 `json:"skipped"`
	AliasFallbacks int64 `json:"alias_fallbacks"`
}

type counters struct {
	events         atomic.Int64
	rawPublished   atomic.Int64
	textPublished  atomic.Int64
	skipped        atomic.Int64
	aliasFallbacks atomic.Int64
}

// Bridge forwards Matrix room messages to a broker. It holds no state beyond
// references to its collaborators, lifecycle state and counters.
type Bridge struct {
	log       zerolog.Logger
	publisher Publisher
	rooms     RoomResolver
	lanes     *roomLanes

	state atomic.Int32
	stats counters
}

// New creates a bridge in the unconfigured state.
func New(log zerolog.Logger) *Bridge {
	return &Bridge{
		log:   log.With().Str("component", "bridge").Logger(),
		lanes: newRoomLanes(),
	}
}

// Attach sets the broker publisher and the room alias resolver. It must be
// called before Run or HandleEvent.
func (b *Bridge) Attach(publisher Publisher, rooms RoomResolver) {
	b.publisher = publisher
	b.rooms = rooms
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev != s {
		b.log.Info().Stringer("from", prev).Stringer("to", s).Msg("Bridge state changed")
	}
}

// MarkConnecting records that the chat and broker connections are being set up.
func (b *Bridge) MarkConnecting() {
	b.setState(StateConnecting)
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Events:         b.stats.events.Load(),
		RawPublished:   b.stats.rawPublished.Load(),
		TextPublished:  b.stats.textPublished.Load(),
		Skipped:        b.stats.skipped.Load(),
		AliasFallbacks: b.stats.aliasFallbacks.Load(),
	}
}

// Run registers the message handler on the session and blocks in its sync
// loop. It only returns when the sync loop fails or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, session Session) error {
	if b.publisher == nil || b.rooms == nil {
		return ErrNotAttached
	}
	session.OnRoomMessage(b.HandleEvent)
	b.setState(StateForwarding)
	if err := session.SyncForever(ctx); err != nil {
		return fmt.Errorf("sync loop stopped: %w", err)
	}
	return nil
}

// HandleEvent queues evt for forwarding and returns immediately. Events of
// the same room are forwarded in the order they were handed in. Queued
// events are still forwarded after ctx is cancelled.
func (b *Bridge) HandleEvent(ctx context.Context, evt *event.Event, raw json.RawMessage) {
	ctx = context.WithoutCancel(ctx)
	b.lanes.Submit(evt.RoomID, func() {
		b.forward(ctx, evt, raw)
	})
}

// Wait blocks until all queued events have been forwarded.
func (b *Bridge) Wait() {
	b.lanes.Wait()
}

// Drain waits for queued events like Wait, but gives up when ctx is done.
func (b *Bridge) Drain(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		b.lanes.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		b.log.Warn().Int("active_rooms", b.lanes.Active()).Msg("Gave up waiting for queued events")
		return ctx.Err()
	}
}

func (b *Bridge) forward(ctx context.Context, evt *event.Event, raw json.RawMessage) {
	log := b.log.With().
		Str("room_id", evt.RoomID.String()).
		Str("event_id", evt.ID.String()).
		Logger()
	defer func() {
		if err := recover(); err != nil {
			log.Error().Any("panic", err).Msg("Panic while forwarding event")
		}
	}()

	b.stats.events.Add(1)
	log.Debug().
		Str("sender", evt.Sender.String()).
		Str("event_type", evt.Type.Type).
		Msg("Incoming room message")

	roomName := SanitizeTopicSegment(b.roomIdentity(ctx, log, evt.RoomID))

	if len(raw) == 0 {
		log.Debug().Msg("Raw event bytes not captured, re-serializing parsed event")
		var err error
		if raw, err = rawEventJSON(evt); err != nil {
			log.Warn().Err(err).Msg("Failed to serialize raw event")
		}
	}
	if len(raw) > 0 {
		b.publisher.Publish(RawTopic(roomName), raw)
		b.stats.rawPublished.Add(1)
	}

	body, ok := ClassifyMessage(log, evt)
	if !ok {
		b.stats.skipped.Add(1)
		return
	}
	topic := TextTopic(roomName)
	log.Info().Str("topic", topic).Str("payload", body).Msg("Forwarding text message")
	b.publisher.Publish(topic, []byte(body))
	b.stats.textPublished.Add(1)
}

// roomIdentity prefers the canonical alias and falls back to the room ID.
// It is looked up on every event because aliases can change at any time.
func (b *Bridge) roomIdentity(ctx context.Context, log zerolog.Logger, roomID id.RoomID) string {
	alias, err := b.rooms.CanonicalAlias(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to look up canonical alias, using room ID")
		b.stats.aliasFallbacks.Add(1)
		return roomID.String()
	}
	if alias == "" {
		log.Warn().Msg("No canonical alias configured for room, using room ID")
		b.stats.aliasFallbacks.Add(1)
		return roomID.String()
	}
	return string(alias)
}

// rawEventJSON serializes a parsed event, keeping the content bytes exactly
// as they were received. Only used when the sync bytes are unavailable.
func rawEventJSON(evt *event.Event) ([]byte, error) {
	if len(evt.Content.VeryRaw) == 0 {
		return json.Marshal(evt)
	}
	shallow := *evt
	shallow.Content = event.Content{VeryRaw: evt.Content.VeryRaw}
	return json.Marshal(&shallow)
}
