// Package ipapi implements the ip-api.com batch geolocation client.
package ipapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// BatchMax is the maximum number of IPs accepted by a single batch request.
const BatchMax = 100

// Placeholder is rendered for fields the remote service did not return.
const Placeholder = "..."

// fields requested from the batch endpoint, per https://ip-api.com/docs/api:batch.
const fields = "continent,continentCode,country,countryCode,region,regionName,city,district,zip,lat,lon,timezone,offset,currency,isp,org,as,asname,mobile,proxy,hosting,query"

const defaultEndpoint = "http://ip-api.com/batch"

// ErrMalformed indicates the remote payload violated the batch contract.
// Callers must treat it as fatal rather than retrying.
var ErrMalformed = errors.New("ipapi: malformed batch response")

// Result holds one resolved IP. Nil field pointers mean the service
// omitted the field; rendering goes through the projection helpers below.
type Result struct {
	Initialized bool `json:"-"`

	Continent     *string  `json:"continent"`
	ContinentCode *string  `json:"continentCode"`
	Country       *string  `json:"country"`
	CountryCode   *string  `json:"countryCode"`
	Region        *string  `json:"regionName"`
	RegionCode    *string  `json:"region"`
	City          *string  `json:"city"`
	District      *string  `json:"district"`
	Zip           *string  `json:"zip"`
	Lat           *float64 `json:"lat"`
	Lon           *float64 `json:"lon"`
	TimeZone      *string  `json:"timezone"`
	Offset        *int     `json:"offset"`
	Currency      *string  `json:"currency"`
	ISP           *string  `json:"isp"`
	Org           *string  `json:"org"`
	AS            *string  `json:"as"`
	ASName        *string  `json:"asname"`
	Mobile        *bool    `json:"mobile"`
	Proxy         *bool    `json:"proxy"`
	Hosting       *bool    `json:"hosting"`
	Query         string   `json:"query"`
}

// Hints carries the rate-limit headers of a batch response.
type Hints struct {
	Remaining   int           // X-Rl: requests left in the current window
	WindowReset time.Duration // X-Ttl: seconds until the window resets
}

// Backoff returns how long the caller should sleep before issuing the
// next batch request. With one request or less remaining the full window
// is waited out; otherwise requests are spread evenly across it.
func (h Hints) Backoff() time.Duration {
	if h.Remaining <= 1 {
		return h.WindowReset
	}
	return h.WindowReset / time.Duration(h.Remaining)
}

// StatusError reports a non-200 batch response. Recoverable: back off
// per the attached hints and retry.
type StatusError struct {
	Code  int
	Hints Hints
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ipapi: batch request returned HTTP %d", e.Code)
}

// Client issues batch lookups against the ip-api.com batch endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient returns a Client with the production endpoint and a short
// request timeout so a stalled request cannot hold up the lookup cycle.
func NewClient() *Client {
	return &Client{
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
}

// NewClientWithEndpoint is used by tests to point the client at a stub server.
func NewClientWithEndpoint(endpoint string) *Client {
	c := NewClient()
	c.endpoint = endpoint
	return c
}

// Batch resolves up to BatchMax IPs in one request.
//
// Error taxonomy: transport errors come back unwrapped (retry next cycle),
// non-200 responses come back as *StatusError (back off and retry), and a
// payload that does not match the documented shape comes back wrapping
// ErrMalformed (fatal contract violation).
func (c *Client) Batch(ctx context.Context, ips []string) ([]Result, Hints, error) {
	if len(ips) > BatchMax {
		return nil, Hints{}, fmt.Errorf("ipapi: batch of %d exceeds the %d IP limit", len(ips), BatchMax)
	}

	body, err := json.Marshal(ips)
	if err != nil {
		return nil, Hints{}, fmt.Errorf("ipapi: encoding batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?fields="+fields, bytes.NewReader(body))
	if err != nil {
		return nil, Hints{}, fmt.Errorf("ipapi: creating batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Hints{}, err
	}
	defer resp.Body.Close()

	hints := parseHints(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return nil, hints, &StatusError{Code: resp.StatusCode, Hints: hints}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hints, err
	}

	var results []Result
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, hints, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for i := range results {
		if results[i].Query == "" {
			return nil, hints, fmt.Errorf("%w: entry %d is missing the query field", ErrMalformed, i)
		}
		results[i].Initialized = true
	}

	return results, hints, nil
}

// parseHints reads the X-Rl/X-Ttl headers. When a header is absent or
// unparsable the most conservative interpretation is used: no requests
// remaining and a full 60 second window.
func parseHints(h http.Header) Hints {
	hints := Hints{Remaining: 0, WindowReset: 60 * time.Second}
	if v, err := strconv.Atoi(h.Get("X-Rl")); err == nil {
		hints.Remaining = v
	}
	if v, err := strconv.Atoi(h.Get("X-Ttl")); err == nil {
		hints.WindowReset = time.Duration(v) * time.Second
	}
	return hints
}

// String projects an optional string field for display.
func String(p *string) string {
	if p == nil {
		return Placeholder
	}
	return *p
}

// Float projects an optional numeric field for display.
func Float(p *float64) string {
	if p == nil {
		return Placeholder
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// Int projects an optional integer field for display.
func Int(p *int) string {
	if p == nil {
		return Placeholder
	}
	return strconv.Itoa(*p)
}

// Bool projects an optional boolean field for display.
func Bool(p *bool) string {
	if p == nil {
		return Placeholder
	}
	return strconv.FormatBool(*p)
}
