// Package marketplace implements the signed-gateway client used to resolve
// dispatch destinations (chat send URLs) for marketplace orders. Requests
// are HMAC-SHA256 signed; access tokens live in a Redis cache and are
// refreshed through the gateway's token endpoints.
package marketplace

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// System parameter names required by the gateway on every call.
const (
	paramAppKey      = "app_key"
	paramAccessToken = "access_token"
	paramTimestamp   = "timestamp"
	paramSign        = "sign"
	paramSignMethod  = "sign_method"
)

// Client executes signed calls against the marketplace REST gateway.
type Client struct {
	httpClient *http.Client
	gatewayURL string
	appKey     string
	appSecret  string
}

// NewClient creates a gateway client. gatewayURL is the REST base, e.g.
// "https://api.example.com/rest".
func NewClient(gatewayURL, appKey, appSecret string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		appKey:     appKey,
		appSecret:  appSecret,
	}
}

// Sign computes the gateway signature: uppercase hex of HMAC-SHA256 over
// the api path followed by the key-sorted concatenation of every
// parameter's key and value.
func Sign(secret, apiPath string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(apiPath)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Response is the gateway envelope. Body carries the endpoint-specific
// payload alongside the envelope fields.
type Response struct {
	Code      string `json:"code"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`

	Body json.RawMessage `json:"-"`
}

// OK reports whether the gateway accepted the call. The gateway uses code
// "0" (or no code at all) for success.
func (r *Response) OK() bool {
	return r.Code == "" || r.Code == "0"
}

// Decode unmarshals the full response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Transport retry tuning. Only network-level failures are retried; a
// gateway response, even a rejecting one, is final.
const maxCallAttempts = 3

var callBackoff = 500 * time.Millisecond

// Execute signs and POSTs a gateway call. accessToken may be empty for
// endpoints that do not require one (the token endpoints themselves).
// Each retry re-signs with a fresh timestamp.
func (c *Client) Execute(ctx context.Context, apiPath string, apiParams map[string]string, accessToken string) (*Response, error) {
	var resp *http.Response
	var lastErr error
	for attempt := 1; attempt <= maxCallAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("marketplace: call %s: %w", apiPath, ctx.Err())
			case <-time.After(callBackoff << (attempt - 2)):
			}
		}

		params := map[string]string{
			paramAppKey:     c.appKey,
			paramSignMethod: "sha256",
			paramTimestamp:  strconv.FormatInt(time.Now().UnixMilli(), 10),
		}
		if accessToken != "" {
			params[paramAccessToken] = accessToken
		}
		for k, v := range apiParams {
			params[k] = v
		}
		params[paramSign] = Sign(c.appSecret, apiPath, params)

		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.gatewayURL+apiPath, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("marketplace: build request %s: %w", apiPath, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("marketplace: call %s: %w", apiPath, lastErr)
	}
	defer resp.Body.Close()

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("marketplace: decode %s response: %w", apiPath, err)
	}

	var envelope Response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("marketplace: parse %s envelope: %w", apiPath, err)
	}
	envelope.Body = body

	if !envelope.OK() {
		return &envelope, fmt.Errorf("marketplace: %s failed: code=%s message=%s", apiPath, envelope.Code, envelope.Message)
	}
	return &envelope, nil
}
