// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrix holds the authenticated Matrix session the bridge reads
// room messages from.
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrInvalidUserID is returned for user IDs not of the form @user:server.
var ErrInvalidUserID = errors.New("invalid matrix user id, use a fully qualified representation (@user:server)")

// Config holds the Matrix account settings.
type Config struct {
	// UserID is the fully qualified account, e.g. @bridge:example.org.
	UserID   string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// HomeserverURL skips .well-known discovery when set.
	HomeserverURL string `mapstructure:"homeserver_url"`
	DeviceName    string `mapstructure:"device_name"`
}

// Session is a logged-in Matrix client.
type Session struct {
	client  *mautrix.Client
	syncer  *mautrix.DefaultSyncer
	capture *rawEventCapture
	log     zerolog.Logger
}

// ParseUserID splits a fully qualified user ID into localpart and server name.
func ParseUserID(userID string) (localpart, serverName string, err error) {
	localpart, serverName, err = id.UserID(userID).Parse()
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidUserID, err)
	}
	if localpart == "" || serverName == "" {
		return "", "", ErrInvalidUserID
	}
	return localpart, serverName, nil
}

// Login resolves the homeserver of cfg.UserID and logs in with the user ID's
// localpart and cfg.Password. No retries are made.
func Login(ctx context.Context, cfg Config, log zerolog.Logger) (*Session, error) {
	log = log.With().Str("component", "matrix").Logger()

	localpart, serverName, err := ParseUserID(cfg.UserID)
	if err != nil {
		return nil, err
	}

	homeserverURL := resolveHomeserver(ctx, log, cfg.HomeserverURL, serverName)
	client, err := mautrix.NewClient(homeserverURL, "", "")
	if err != nil {
		return nil, fmt.Errorf("unable to create matrix client for %s: %w", homeserverURL, err)
	}
	client.Log = log
	capture := withRawCapture(client, log)

	log.Info().
		Str("homeserver", homeserverURL).
		Str("user_id", cfg.UserID).
		Msg("Logging in to Matrix")

	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: localpart,
		},
		Password:                 cfg.Password,
		InitialDeviceDisplayName: cfg.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not log in to matrix: %w", err)
	}
	log.Info().
		Str("user_id", resp.UserID.String()).
		Str("device_id", string(resp.DeviceID)).
		Msg("Logged in to Matrix")

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		syncer = mautrix.NewDefaultSyncer()
		client.Syncer = syncer
	}

	return &Session{
		client:  client,
		syncer:  syncer,
		capture: capture,
		log:     log,
	}, nil
}

// withRawCapture routes the client's requests through a rawEventCapture.
// The http.Client is copied so a shared default client is never modified.
func withRawCapture(client *mautrix.Client, log zerolog.Logger) *rawEventCapture {
	httpClient := &http.Client{}
	if client.Client != nil {
		*httpClient = *client.Client
	}
	capture := newRawEventCapture(httpClient.Transport, log)
	httpClient.Transport = capture
	client.Client = httpClient
	return capture
}

// resolveHomeserver returns the override if set, else the .well-known base
// URL of serverName, else https://serverName.
func resolveHomeserver(ctx context.Context, log zerolog.Logger, override, serverName string) string {
	if override != "" {
		return strings.TrimSuffix(override, "/")
	}
	wellKnown, err := mautrix.DiscoverClientAPI(ctx, serverName)
	if err != nil {
		log.Warn().Err(err).Str("server_name", serverName).Msg("Homeserver discovery failed, using server name")
	} else if wellKnown != nil && wellKnown.Homeserver.BaseURL != "" {
		return strings.TrimSuffix(wellKnown.Homeserver.BaseURL, "/")
	}
	return "https://" + serverName
}

// OnRoomMessage registers handler for every m.room.message event in joined
// rooms, including the backlog delivered by the initial sync. The handler
// gets the event bytes as they appeared in the sync response, or nil if
// they were not captured. Register before calling SyncForever.
func (s *Session) OnRoomMessage(handler func(ctx context.Context, evt *event.Event, raw json.RawMessage)) {
	s.syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		raw, ok := s.capture.Take(evt.ID)
		if !ok {
			s.log.Debug().Str("event_id", evt.ID.String()).Msg("No raw bytes captured for event")
		}
		handler(ctx, evt, raw)
	})
}

// SyncForever runs the sync loop. Transient failures are retried by the
// syncer; it returns on unrecoverable errors such as an invalidated access
// token, or when ctx is cancelled.
func (s *Session) SyncForever(ctx context.Context) error {
	s.log.Info().Msg("Starting Matrix sync loop")
	return s.client.SyncWithContext(ctx)
}

// CanonicalAlias fetches the current m.room.canonical_alias of roomID.
// It returns an empty alias when the room has none.
func (s *Session) CanonicalAlias(ctx context.Context, roomID id.RoomID) (id.RoomAlias, error) {
	var content event.CanonicalAliasEventContent
	err := s.client.StateEvent(ctx, roomID, event.StateCanonicalAlias, "", &content)
	if errors.Is(err, mautrix.MNotFound) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to get canonical alias of %s: %w", roomID, err)
	}
	return content.Alias, nil
}

// UserID returns the logged-in user.
func (s *Session) UserID() id.UserID {
	return s.client.UserID
}

// Logout invalidates the access token created by Login.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out of matrix: %w", err)
	}
	return nil
}
