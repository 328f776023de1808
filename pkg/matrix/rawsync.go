// Copyright 2024-2026 Aiku AI

package matrix

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// rawSyncResponse picks the joined-room timelines out of a /sync body
// without interpreting the events.
type rawSyncResponse struct {
	Rooms struct {
		Join map[id.RoomID]struct {
			Timeline struct {
				Events []json.RawMessage `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

// rawEventCapture is an http.RoundTripper that keeps the timeline events of
// the latest /sync response exactly as the homeserver sent them. The syncer
// dispatches a response completely before requesting the next one, so the
// index only ever needs to hold one response.
type rawEventCapture struct {
	base http.RoundTripper
	log  zerolog.Logger

	mu     sync.Mutex
	events map[id.EventID]json.RawMessage
}

func newRawEventCapture(base http.RoundTripper, log zerolog.Logger) *rawEventCapture {
	if base == nil {
		base = http.DefaultTransport
	}
	return &rawEventCapture{
		base:   base,
		log:    log,
		events: make(map[id.EventID]json.RawMessage),
	}
}

func isSyncRequest(req *http.Request) bool {
	return req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, "/sync")
}

func (c *rawEventCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.base.RoundTrip(req)
	if err != nil || !isSyncRequest(req) || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Content-Length")
	c.index(body)
	return resp, nil
}

func (c *rawEventCapture) index(body []byte) {
	var resp rawSyncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn().Err(err).Msg("Failed to index raw sync events")
		return
	}
	events := make(map[id.EventID]json.RawMessage)
	for _, room := range resp.Rooms.Join {
		for _, raw := range room.Timeline.Events {
			var head struct {
				ID id.EventID `json:"event_id"`
			}
			if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
				continue
			}
			events[head.ID] = raw
		}
	}
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

// Take returns and forgets the bytes of eventID from the latest sync.
func (c *rawEventCapture) Take(eventID id.EventID) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.events[eventID]
	if ok {
		delete(c.events, eventID)
	}
	return raw, ok
}
