package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"cart-recovery/internal/config"
)

func superUTestConfig() config.SuperUConfig {
	return config.SuperUConfig{
		BaseURL:          "https://api.superu.test",
		APIKey:           "sk_test",
		WebhookSecret:    "whsec_test",
		WebhookTolerance: 5 * time.Minute,
		CallTimeout:      5 * time.Second,
	}
}

func sign(secret string, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	su := NewSuperU(superUTestConfig())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	su.clock = func() time.Time { return now }

	body := []byte(`{"call_id":"pc-1","status":"completed"}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	if err := su.VerifyWebhookSignature(body, sign("whsec_test", ts, body), ts); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	// Prefixed signature form is accepted.
	if err := su.VerifyWebhookSignature(body, "sha256="+sign("whsec_test", ts, body), ts); err != nil {
		t.Fatalf("expected prefixed signature to verify, got %v", err)
	}

	if err := su.VerifyWebhookSignature(body, sign("wrong_secret", ts, body), ts); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}

	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	if err := su.VerifyWebhookSignature(body, sign("whsec_test", stale, body), stale); err != ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}

	if err := su.VerifyWebhookSignature(body, sign("whsec_test", ts, body), "not-a-number"); err != ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp for bad timestamp, got %v", err)
	}
}

func TestStartOutboundCall_ParsesProviderCallID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calls" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Fatalf("missing auth header")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req["to"] != "+15551234567" {
			t.Fatalf("unexpected to: %v", req["to"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"call_id":"pc-99"},"status":"queued"}`)
	}))
	defer srv.Close()

	cfg := superUTestConfig()
	cfg.BaseURL = srv.URL
	su := NewSuperU(cfg)

	resp, err := su.StartOutboundCall(context.Background(), StartCallRequest{
		ToPhone:     "+15551234567",
		AssistantID: "asst-1",
		FromPhone:   "+15550000000",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.ProviderCallID != "pc-99" {
		t.Fatalf("expected pc-99, got %q", resp.ProviderCallID)
	}
}

func TestStartOutboundCall_ProviderErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"insufficient balance"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	cfg := superUTestConfig()
	cfg.BaseURL = srv.URL
	su := NewSuperU(cfg)

	if _, err := su.StartOutboundCall(context.Background(), StartCallRequest{ToPhone: "+1555"}); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestFetchCallLogs_WrappedAndPlainShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"status":"ringing"},{"status":"completed"}]}`)
	}))
	defer srv.Close()

	cfg := superUTestConfig()
	cfg.BaseURL = srv.URL
	su := NewSuperU(cfg)

	events, err := su.FetchCallLogs(context.Background(), "pc-1", 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1]["status"] != "completed" {
		t.Fatalf("expected most recent event last, got %v", events[1])
	}

	plain, err := decodeEventList([]byte(`[{"status":"failed"}]`))
	if err != nil || len(plain) != 1 {
		t.Fatalf("expected plain array decode, got %v %v", plain, err)
	}
}

func TestEnabled(t *testing.T) {
	su := NewSuperU(config.SuperUConfig{})
	if su.Enabled() {
		t.Fatalf("expected disabled without api key")
	}
	if _, err := su.StartOutboundCall(context.Background(), StartCallRequest{}); err == nil {
		t.Fatalf("expected error when disabled")
	}
}
