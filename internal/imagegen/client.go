package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Classified failures the scheduler cares about. Everything else surfaces as
// a plain error and is treated as a generic service failure.
var (
	ErrRateLimited      = errors.New("imagegen: rate limited")
	ErrCreditsExhausted = errors.New("imagegen: credits exhausted")
	ErrNoImages         = errors.New("imagegen: no images generated")
)

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// RatePerMinute caps outgoing calls client-side. Zero disables pacing.
	RatePerMinute int
}

// Client talks to the external image expansion service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.pixelexpand.ai/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		// No transport-level timeout: the per-call deadline is owned by the
		// caller's context so timeout classification stays in one place.
		client = &http.Client{}
	}
	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
		limiter:    limiter,
	}
}

// Expand issues exactly one generation call for the given product and returns
// the generated images. The context carries the per-call deadline and the
// run-wide cancellation signal.
func (c *Client) Expand(ctx context.Context, req ExpandRequest) ([]GeneratedImage, error) {
	if c == nil {
		return nil, errors.New("imagegen: client not configured")
	}
	if c.token == "" {
		return nil, errors.New("imagegen: API key is missing")
	}
	if strings.TrimSpace(req.SourceImageURL) == "" {
		return nil, errors.New("imagegen: source image url required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/expansions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusPaymentRequired:
		return nil, ErrCreditsExhausted
	}

	var out expandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("imagegen: http %d", resp.StatusCode)
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest || !out.Success {
		if out.Error != "" {
			return nil, fmt.Errorf("imagegen: %s", out.Error)
		}
		return nil, fmt.Errorf("imagegen: http %d", resp.StatusCode)
	}
	if len(out.GeneratedImages) == 0 {
		return nil, ErrNoImages
	}
	return out.GeneratedImages, nil
}
