// Copyright 2024-2026 Aiku AI

package bridge

import "strings"

// TopicPrefix is the root of every topic the bridge publishes to.
const TopicPrefix = "matrix2mqtt"

// reservedTopicChars are the MQTT wildcard and level separator characters.
const reservedTopicChars = "#/+"

// SanitizeTopicSegment removes the characters MQTT reserves for topic
// wildcards and level separators, so that a room identity can be used as a
// single topic level. Everything else, including case and whitespace, is kept.
func SanitizeTopicSegment(name string) string {
	if !strings.ContainsAny(name, reservedTopicChars) {
		return name
	}
	var sb strings.Builder
	sb.Grow(len(name))
	// Byte-wise so invalid UTF-8 passes through untouched; the reserved
	// characters are ASCII and never occur inside a multi-byte sequence.
	for i := 0; i < len(name); i++ {
		if strings.IndexByte(reservedTopicChars, name[i]) >= 0 {
			continue
		}
		sb.WriteByte(name[i])
	}
	return sb.String()
}

// RawTopic returns the topic that carries the raw event JSON for a room.
func RawTopic(safeRoomName string) string {
	return TopicPrefix + "/json/" + safeRoomName
}

// TextTopic returns the topic that carries plain text bodies for a room.
func TextTopic(safeRoomName string) string {
	return TopicPrefix + "/text/" + safeRoomName
}
