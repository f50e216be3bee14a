package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cart-recovery/internal/config"
)

// SuperU is the HTTP adapter for the SuperU voice API.
//
// The client is constructed even when credentials are absent; Enabled()
// gates every caller, and the scheduler converts a disabled client into a
// provider_not_configured cancellation with a critical alert.
type SuperU struct {
	baseURL       string
	apiKey        string
	webhookSecret []byte
	tolerance     time.Duration

	httpc *http.Client

	// clock is injectable for deterministic signature-tolerance tests.
	clock func() time.Time
}

func NewSuperU(cfg config.SuperUConfig) *SuperU {
	return &SuperU{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: []byte(cfg.WebhookSecret),
		tolerance:     cfg.WebhookTolerance,
		httpc:         &http.Client{Timeout: cfg.CallTimeout},
		clock:         time.Now,
	}
}

func (s *SuperU) Name() string { return "superu" }

func (s *SuperU) Enabled() bool { return s.apiKey != "" }

func (s *SuperU) StartOutboundCall(ctx context.Context, req StartCallRequest) (StartCallResponse, error) {
	if !s.Enabled() {
		return StartCallResponse{}, fmt.Errorf("superu: client not configured")
	}

	body, err := json.Marshal(map[string]any{
		"to":           req.ToPhone,
		"assistant_id": req.AssistantID,
		"from":         req.FromPhone,
		"metadata":     req.Metadata,
	})
	if err != nil {
		return StartCallResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return StartCallResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpc.Do(httpReq)
	if err != nil {
		return StartCallResponse{}, fmt.Errorf("superu: start call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StartCallResponse{}, fmt.Errorf("superu: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StartCallResponse{}, fmt.Errorf("superu: start call failed: status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return StartCallResponse{}, fmt.Errorf("superu: decode response: %w", err)
		}
	}
	return StartCallResponse{
		ProviderCallID: ExtractCallID(decoded),
		Raw:            decoded,
	}, nil
}

func (s *SuperU) FetchCallLogs(ctx context.Context, providerCallID string, limit int) ([]map[string]any, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("superu: client not configured")
	}
	if providerCallID == "" {
		return nil, fmt.Errorf("superu: provider call id is required")
	}
	if limit <= 0 {
		limit = 1
	}

	url := fmt.Sprintf("%s/v1/calls/%s/logs?limit=%d", s.baseURL, providerCallID, limit)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("superu: fetch call logs: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("superu: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("superu: fetch call logs failed: status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	return decodeEventList(raw)
}

// VerifyWebhookSignature checks HMAC-SHA256 over "timestamp.rawBody" and
// bounds the timestamp skew. Both checks happen before any state lookup.
func (s *SuperU) VerifyWebhookSignature(rawBody []byte, signatureHeader, timestampHeader string) error {
	if len(s.webhookSecret) == 0 {
		return ErrBadSignature
	}

	ts := strings.TrimSpace(timestampHeader)
	if ts == "" {
		return ErrStaleTimestamp
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	skew := s.clock().UTC().Sub(time.Unix(unix, 0).UTC())
	if skew < 0 {
		skew = -skew
	}
	if skew > s.tolerance {
		return ErrStaleTimestamp
	}

	sig := strings.TrimSpace(signatureHeader)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return ErrBadSignature
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// PayloadFingerprint derives a stable per-event key when SuperU omits event
// ids: call id + status + provider timestamp. Returns "" when any part is
// missing, which pushes key derivation to the payload-hash tier.
func (s *SuperU) PayloadFingerprint(payload map[string]any) string {
	callID := ExtractCallID(payload)
	if callID == "" {
		return ""
	}
	status := ""
	for _, key := range []string{"status", "call_status", "state", "event"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			status = strings.TrimSpace(v)
			break
		}
	}
	ts := ""
	for _, key := range []string{"timestamp", "occurred_at", "created_at"} {
		switch v := payload[key].(type) {
		case string:
			ts = strings.TrimSpace(v)
		case float64:
			ts = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if ts != "" {
			break
		}
	}
	if status == "" || ts == "" {
		return ""
	}
	return callID + "|" + status + "|" + ts
}

func decodeEventList(raw []byte) ([]map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asList []map[string]any
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	// Some endpoints wrap the list: {"data": [...]} or {"logs": [...]}.
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("superu: unexpected log payload shape")
	}
	for _, key := range []string{"data", "logs", "events"} {
		if inner, ok := wrapped[key]; ok {
			if err := json.Unmarshal(inner, &asList); err == nil {
				return asList, nil
			}
		}
	}
	return nil, fmt.Errorf("superu: unexpected log payload shape")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
