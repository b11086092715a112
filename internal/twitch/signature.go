// Package twitch implements the Twitch Helix/EventSub collaborator: the REST
// client used for token management, user lookup, and webhook subscription
// management, and the HMAC verification of inbound webhook callbacks.
package twitch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// EventSub webhook headers and message types.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"

	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"

	signaturePrefix = "sha256="
)

// DefaultReplayWindow is how old a message timestamp may be before the
// callback is rejected as a replay.
const DefaultReplayWindow = 10 * time.Minute

// VerifySignature checks the HMAC-SHA256 signature of an EventSub callback.
// The signed message is the concatenation of the message id, the message
// timestamp, and the raw request body, keyed by the subscription's shared
// secret. Returns false when the signature header is absent, malformed, or
// does not match.
func VerifySignature(headers http.Header, body []byte, secret string) bool {
	signature := headers.Get(HeaderMessageSignature)
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	if secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(headers.Get(HeaderMessageID)))
	mac.Write([]byte(headers.Get(HeaderMessageTimestamp)))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// FreshTimestamp reports whether the message timestamp is recent enough to
// process. Stale timestamps are rejected to stop signed-message replays.
func FreshTimestamp(headers http.Header, window time.Duration) bool {
	ts, err := time.Parse(time.RFC3339, headers.Get(HeaderMessageTimestamp))
	if err != nil {
		return false
	}
	return time.Since(ts) <= window
}

// Sign computes the signature header value for a message. Used by tests to
// build valid callbacks.
func Sign(messageID, timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
