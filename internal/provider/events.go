package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Event payload helpers shared by the webhook and polling paths. Providers
// are loose about field naming, so extraction walks a small set of known
// aliases, including one level of nesting under data/call/payload.

var callIDKeys = []string{"call_id", "callId", "id", "uuid"}

var eventIDKeys = []string{"event_id", "eventId", "webhook_id", "webhookId", "message_id", "messageId"}

// ExtractCallID pulls the provider call identifier out of an event payload.
func ExtractCallID(payload map[string]any) string {
	containers := []map[string]any{payload}
	for _, key := range []string{"data", "call", "payload"} {
		if nested, ok := payload[key].(map[string]any); ok {
			containers = append(containers, nested)
		}
	}
	for _, c := range containers {
		for _, key := range callIDKeys {
			if v := stringField(c, key); v != "" {
				return v
			}
		}
	}
	return ""
}

// ExtractEventID pulls an explicit provider event identifier, if present.
func ExtractEventID(payload map[string]any) string {
	for _, key := range eventIDKeys {
		if v := stringField(payload, key); v != "" {
			return v
		}
	}
	if nested, ok := payload["data"].(map[string]any); ok {
		for _, key := range eventIDKeys {
			if v := stringField(nested, key); v != "" {
				return v
			}
		}
	}
	return ""
}

// EventKey derives the idempotency key for a provider event. Fallback chain:
// explicit event id, then the client's payload fingerprint, then a hash of
// the canonicalized payload. The hash tier is the correctness backstop for
// providers that omit event ids.
func EventKey(payload map[string]any, c Client) string {
	if id := ExtractEventID(payload); id != "" {
		return id
	}
	if c != nil {
		if fp := strings.TrimSpace(c.PayloadFingerprint(payload)); fp != "" {
			return fp
		}
	}
	return payloadHash(payload)
}

func payloadHash(payload map[string]any) string {
	// encoding/json sorts map keys, so this is a canonical form.
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// NormalizeStatus collapses the provider's free-form status string into the
// closed CallState set. Unknown values map to in_progress so an unrecognized
// event can never terminate a call prematurely.
func NormalizeStatus(payload map[string]any) CallState {
	raw := ""
	for _, key := range []string{"status", "call_status", "state", "event"} {
		if v := stringField(payload, key); v != "" {
			raw = v
			break
		}
	}
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	value = strings.ReplaceAll(value, " ", "_")

	switch value {
	case "queued", "dialing", "ringing":
		return StateRinging
	case "connected", "answered", "in_progress", "active":
		return StateInProgress
	case "completed", "success", "ended", "done":
		return StateCompleted
	case "failed", "error", "busy", "cancelled", "canceled", "no_answer", "voicemail", "dropped", "timeout":
		return StateFailed
	default:
		return StateInProgress
	}
}

// ExtractOutcome pulls a normalized outcome label (lowercase snake_case)
// from an event payload, falling back to the normalized status.
func ExtractOutcome(payload map[string]any) string {
	for _, key := range []string{"outcome", "disposition", "result", "intent"} {
		if v := stringField(payload, key); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			v = strings.ReplaceAll(v, "-", "_")
			return strings.ReplaceAll(v, " ", "_")
		}
	}
	return string(NormalizeStatus(payload))
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
