// Package eio implements the slice of the Engine.IO v3 wire grammar
// that imhd.sk's push channel speaks. It is deliberately not a general
// Engine.IO client: only the frames the site actually exchanges are
// covered, and they are reproduced byte-for-byte.
package eio

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Single-character packet types, sent as literal ASCII tokens.
const (
	PacketOpen    = "0"
	PacketClose   = "1"
	PacketPing    = "2"
	PacketPong    = "3"
	PacketMessage = "4"
	PacketUpgrade = "5"
)

// Probe frames exchanged while upgrading from polling to websocket.
const (
	ProbePing = "2probe"
	ProbePong = "3probe"
)

// messageHeaderLen covers the packet type plus the socket.io subtype
// digit, e.g. the "42" in `42["req",...]`.
const messageHeaderLen = 2

// EncodePayload wraps a frame for the polling POST body. The frame is
// whitespace-stripped first, then length-prefixed: `<len>:<frame>`.
func EncodePayload(frame string) string {
	frame = strings.TrimSpace(frame)
	return strconv.Itoa(len(frame)) + ":" + frame
}

// SubscribeFrame builds the subscribe command for a stop and its
// platforms: `42["req",[<stop>,[<platforms>]]]`. Numeric platform
// identifiers are encoded as numbers, matching what the site's own
// frontend sends.
func SubscribeFrame(stopID int, platforms []string) string {
	elems := make([]any, len(platforms))
	for i, p := range platforms {
		if n, err := strconv.Atoi(p); err == nil {
			elems[i] = n
		} else {
			elems[i] = p
		}
	}

	// Marshalling a flat array of known scalars cannot fail.
	body, _ := json.Marshal([]any{"req", []any{stopID, elems}})
	return PacketMessage + "2" + string(body)
}

// MessagePayload strips the two-character header from a data frame and
// returns the JSON remainder. Control frames ("2", "3", "3probe", ...)
// and anything too short report ok=false.
func MessagePayload(frame string) (payload string, ok bool) {
	if len(frame) <= messageHeaderLen || !strings.HasPrefix(frame, PacketMessage) {
		return "", false
	}
	return frame[messageHeaderLen:], true
}
