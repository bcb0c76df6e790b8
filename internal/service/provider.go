package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vinreports-api/internal/cache"
)

// ErrVINRejected means the provider explicitly refused the VIN, as
// opposed to failing transiently.
var ErrVINRejected = errors.New("provider rejected vin")

// ErrPlateNotFound means the state+plate combination did not resolve to
// a VIN.
var ErrPlateNotFound = errors.New("plate did not resolve to a vin")

// ReportProvider is the upstream vehicle-history report source.
type ReportProvider interface {
	// FetchReport retrieves the raw report payload for a VIN in the
	// requested format ("html" or "pdf"). The payload encoding is still
	// opaque; callers classify it with the decoder.
	FetchReport(ctx context.Context, vin, reportType, format string) ([]byte, error)

	// ResolvePlate resolves a state+plate pair to a VIN.
	ResolvePlate(ctx context.Context, state, plate string) (string, error)
}

// HTTPReportProvider implements ReportProvider against the provider's
// HTTP API. Plate resolutions are cached; report payloads are not (the
// report cache repository owns those).
type HTTPReportProvider struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	plateCache cache.Cache
	plateTTL   time.Duration
}

// NewHTTPReportProvider creates a provider client with a bounded fetch
// timeout.
func NewHTTPReportProvider(baseURL, apiKey string, timeout time.Duration, plateCache cache.Cache, plateTTL time.Duration) *HTTPReportProvider {
	return &HTTPReportProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		client:     &http.Client{Timeout: timeout},
		plateCache: plateCache,
		plateTTL:   plateTTL,
	}
}

// FetchReport retrieves the raw report payload for a VIN.
func (p *HTTPReportProvider) FetchReport(ctx context.Context, vin, reportType, format string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1/reports?vin=%s&type=%s&format=%s",
		p.baseURL, url.QueryEscape(vin), url.QueryEscape(reportType), url.QueryEscape(format))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider fetch failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("provider read failed: %w", err)
		}
		return payload, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		// The provider answered and refused this VIN. Internal detail from
		// the provider body is not propagated to clients.
		return nil, ErrVINRejected
	default:
		return nil, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
}

// ResolvePlate resolves a state+plate pair to a VIN, with a short-lived
// cache in front of the remote lookup.
func (p *HTTPReportProvider) ResolvePlate(ctx context.Context, state, plate string) (string, error) {
	state = strings.ToUpper(strings.TrimSpace(state))
	plate = strings.ToUpper(strings.TrimSpace(plate))
	cacheKey := fmt.Sprintf("plate:%s:%s", state, plate)

	if p.plateCache != nil {
		if cached, err := p.plateCache.Get(ctx, cacheKey); err == nil {
			return string(cached), nil
		}
	}

	endpoint := fmt.Sprintf("%s/v1/plate-decode?state=%s&plate=%s",
		p.baseURL, url.QueryEscape(state), url.QueryEscape(plate))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("plate lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrPlateNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("plate lookup returned %d", resp.StatusCode)
	}

	var result struct {
		VIN string `json:"vin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("plate lookup decode failed: %w", err)
	}
	if result.VIN == "" {
		return "", ErrPlateNotFound
	}

	if p.plateCache != nil {
		_ = p.plateCache.Set(ctx, cacheKey, []byte(result.VIN), p.plateTTL)
	}

	return result.VIN, nil
}

// Ensure HTTPReportProvider implements ReportProvider
var _ ReportProvider = (*HTTPReportProvider)(nil)
