// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge forwards Matrix room messages to a publish/subscribe broker.
//
// For every m.room.message event the bridge resolves the room's identity
// (canonical alias, or the room ID when no alias is set), strips the
// characters MQTT reserves in topic names, and publishes:
//
//   - the raw event JSON to matrix2mqtt/json/<room>, for every message;
//   - the plain text body to matrix2mqtt/text/<room>, for m.text only.
//
// Both publishes are QoS 0, not retained, and fire-and-forget: delivery
// failures are logged by the publisher and never reach the bridge.
//
// # Core Types
//
// [Bridge] owns the lifecycle state (unconfigured, connecting, forwarding)
// and the per-event algorithm. It depends only on the small [Publisher],
// [RoomResolver] and [Session] interfaces, implemented by the pubsub and
// matrix packages.
//
// # Ordering
//
// Events are handed from the sync loop to per-room lanes. Events of one room
// are forwarded in arrival order; different rooms are forwarded concurrently.
// The sync loop never waits for broker I/O.
package bridge
