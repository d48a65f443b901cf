// Package probe implements the live endpoint probe: a single outbound
// request that classifies a candidate URL as a confirmed x402 pay-per-call
// endpoint, a non-compliant endpoint, or unreachable. The prober never
// returns a Go error and never retries; every outcome, including timeout,
// is represented as a completed ProbeResult.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

// DefaultTimeout is the hard per-probe deadline when the caller does not
// supply one.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a payment-required response is read.
const maxBodyBytes = 64 * 1024

// paymentRequired is the x402 payment-requirements payload carried on an
// HTTP 402 response.
type paymentRequired struct {
	X402Version int    `json:"x402Version"`
	Error       string `json:"error,omitempty"`
	Accepts     []struct {
		Scheme            string `json:"scheme"`
		Network           string `json:"network"`
		MaxAmountRequired string `json:"maxAmountRequired"`
		Asset             string `json:"asset"`
		PayTo             string `json:"payTo"`
		Resource          string `json:"resource,omitempty"`
	} `json:"accepts"`
}

// Prober issues live probes against candidate URLs.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

// New constructs a Prober. A nil client falls back to a dedicated
// http.Client; per-probe deadlines are enforced through the request context
// either way.
func New(client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: client, logger: logger}
}

// Probe requests the URL and classifies the response. A 402 status with a
// parseable x402 payment-requirements payload is a confirmed endpoint; any
// other status is non-compliant; a transport failure or the timeout elapsing
// yields an error-flagged result. The returned ProbeResult is always fully
// populated for its outcome, even when the probe is cancelled mid-flight.
func (p *Prober) Probe(ctx context.Context, url string, timeout time.Duration) types.ProbeResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return types.ProbeResult{Error: "invalid probe url: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || probeCtx.Err() != nil {
			return types.ProbeResult{ResponseTimeMs: elapsed, Error: "probe timed out"}
		}
		return types.ProbeResult{ResponseTimeMs: elapsed, Error: "endpoint unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		p.logger.Debug("endpoint did not present payment challenge", "url", url, "status", resp.StatusCode)
		return types.ProbeResult{ResponseTimeMs: elapsed}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return types.ProbeResult{ResponseTimeMs: elapsed, Error: "failed to read payment requirements: " + err.Error()}
	}

	var required paymentRequired
	if err := json.Unmarshal(body, &required); err != nil || len(required.Accepts) == 0 {
		// 402 without a usable x402 payload is not a compliant endpoint.
		return types.ProbeResult{ResponseTimeMs: elapsed}
	}

	result := types.ProbeResult{
		IsX402Endpoint: true,
		PaymentAddress: required.Accepts[0].PayTo,
		ResponseTimeMs: elapsed,
		Prices:         make(map[string]string, len(required.Accepts)),
	}

	seen := make(map[string]bool, len(required.Accepts))
	for _, accept := range required.Accepts {
		if accept.Asset != "" && !seen[accept.Asset] {
			seen[accept.Asset] = true
			result.AcceptedTokens = append(result.AcceptedTokens, accept.Asset)
		}
		if accept.Asset != "" && accept.MaxAmountRequired != "" {
			result.Prices[accept.Asset] = accept.MaxAmountRequired
		}
	}

	return result
}
