package twitch

import (
	"net/http"
	"testing"
	"time"
)

func signedHeaders(messageID, timestamp string, body []byte, secret string) http.Header {
	h := http.Header{}
	h.Set(HeaderMessageID, messageID)
	h.Set(HeaderMessageTimestamp, timestamp)
	h.Set(HeaderMessageSignature, Sign(messageID, timestamp, body, secret))
	return h
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":{"id":"999"}}`)
	ts := time.Now().UTC().Format(time.RFC3339)
	h := signedHeaders("msg-1", ts, body, "topsecret")

	if !VerifySignature(h, body, "topsecret") {
		t.Error("valid signature rejected")
	}
	if VerifySignature(h, body, "wrongsecret") {
		t.Error("signature verified with wrong secret")
	}
	if VerifySignature(h, []byte("tampered"), "topsecret") {
		t.Error("signature verified over tampered body")
	}

	h2 := signedHeaders("msg-2", ts, body, "topsecret")
	h2.Set(HeaderMessageID, "msg-1")
	if VerifySignature(h2, body, "topsecret") {
		t.Error("signature verified with swapped message id")
	}
}

func TestVerifySignatureMissingOrMalformedHeader(t *testing.T) {
	body := []byte("{}")
	h := http.Header{}
	h.Set(HeaderMessageID, "msg-1")
	h.Set(HeaderMessageTimestamp, time.Now().UTC().Format(time.RFC3339))

	if VerifySignature(h, body, "topsecret") {
		t.Error("missing signature header must fail verification")
	}

	h.Set(HeaderMessageSignature, "md5=abcdef")
	if VerifySignature(h, body, "topsecret") {
		t.Error("malformed signature header must fail verification")
	}

	h.Set(HeaderMessageSignature, Sign("msg-1", h.Get(HeaderMessageTimestamp), body, ""))
	if VerifySignature(h, body, "") {
		t.Error("empty secret must fail verification")
	}
}

func TestFreshTimestamp(t *testing.T) {
	h := http.Header{}

	h.Set(HeaderMessageTimestamp, time.Now().UTC().Format(time.RFC3339))
	if !FreshTimestamp(h, DefaultReplayWindow) {
		t.Error("current timestamp should be fresh")
	}

	h.Set(HeaderMessageTimestamp, time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))
	if FreshTimestamp(h, DefaultReplayWindow) {
		t.Error("hour-old timestamp should be stale")
	}

	h.Set(HeaderMessageTimestamp, "not-a-timestamp")
	if FreshTimestamp(h, DefaultReplayWindow) {
		t.Error("unparseable timestamp should be rejected")
	}
}
