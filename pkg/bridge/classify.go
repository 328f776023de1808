// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
)

// ClassifyMessage returns the plain text body of an m.text message. Any other
// message type yields ok=false and a warning; unknown msgtypes are treated
// the same as known non-text ones.
func ClassifyMessage(log zerolog.Logger, evt *event.Event) (body string, ok bool) {
	if evt.Content.Parsed == nil && len(evt.Content.VeryRaw) > 0 {
		if err := evt.Content.ParseRaw(event.EventMessage); err != nil {
			log.Warn().Err(err).
				Str("event_id", evt.ID.String()).
				Msg("Failed to parse message content, ignoring")
			return "", false
		}
	}

	content, isMessage := evt.Content.Parsed.(*event.MessageEventContent)
	if !isMessage || content == nil {
		log.Warn().
			Str("event_id", evt.ID.String()).
			Str("event_type", evt.Type.Type).
			Msg("Event has no message content, ignoring")
		return "", false
	}

	if content.MsgType != event.MsgText {
		log.Warn().
			Str("event_id", evt.ID.String()).
			Str("msgtype", string(content.MsgType)).
			Msg("Non-text message, ignoring")
		return "", false
	}
	return content.Body, true
}
