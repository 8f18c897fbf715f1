package tado

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joshp123/tado-exporter/internal/rate"
)

// Credentials supplies bearer tokens for API calls.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the Tado REST API. It never retries; callers decide what
// to do with a classified failure.
type Client struct {
	baseURL string
	creds   Credentials

	httpClient *http.Client
	// configured is TADO_HOME_ID; homeID is set once /me has confirmed it.
	configured *int
	homeID     *int
}

// NewClient builds a client. rateObs may be nil.
func NewClient(cfg Config, creds Credentials, rateObs *rate.Observer) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if rateObs != nil {
		httpClient = rate.WrapHTTP(rateObs, httpClient)
	}

	var configured *int
	if cfg.HomeID != nil {
		id := *cfg.HomeID
		configured = &id
	}

	return &Client{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: httpClient,
		configured: configured,
	}, nil
}

// HomeID resolves the home to poll. The first call always asks /me, also
// when a home ID is configured, so it doubles as the connection check.
// A configured home the account cannot see is an AuthError.
func (c *Client) HomeID(ctx context.Context) (int, error) {
	if c.homeID != nil {
		return *c.homeID, nil
	}

	var resp struct {
		Homes []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"homes"`
	}

	if err := c.getJSON(ctx, "/me", &resp); err != nil {
		return 0, err
	}
	if c.configured != nil {
		want := *c.configured
		for _, home := range resp.Homes {
			if home.ID == want {
				c.homeID = &want
				return want, nil
			}
		}
		return 0, AuthError{Err: fmt.Errorf("%w: %d", ErrHomeNotAccessible, want)}
	}
	if len(resp.Homes) == 0 {
		return 0, fmt.Errorf("no homes found in /me response")
	}
	if len(resp.Homes) > 1 {
		labels := make([]string, 0, len(resp.Homes))
		for _, home := range resp.Homes {
			if home.Name != "" {
				labels = append(labels, fmt.Sprintf("%d (%s)", home.ID, home.Name))
				continue
			}
			labels = append(labels, fmt.Sprintf("%d", home.ID))
		}
		return 0, fmt.Errorf("multiple homes found: %s (set TADO_HOME_ID)", strings.Join(labels, ", "))
	}

	c.homeID = &resp.Homes[0].ID
	return *c.homeID, nil
}

func (c *Client) Zones(ctx context.Context) ([]Zone, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return nil, err
	}

	var zones []Zone
	if err := c.getJSON(ctx, fmt.Sprintf("/homes/%d/zones", homeID), &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func (c *Client) ZoneState(ctx context.Context, zoneID int) (ZoneState, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return ZoneState{}, err
	}

	var state ZoneState
	if err := c.getJSON(ctx, fmt.Sprintf("/homes/%d/zones/%d/state", homeID, zoneID), &state); err != nil {
		return ZoneState{}, err
	}
	return state, nil
}

func (c *Client) Weather(ctx context.Context) (Weather, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return Weather{}, err
	}

	var weather Weather
	if err := c.getJSON(ctx, fmt.Sprintf("/homes/%d/weather", homeID), &weather); err != nil {
		return Weather{}, err
	}
	return weather, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			c.creds.Invalidate()
		}
		return HTTPStatusError{Status: resp.StatusCode, Body: string(body), Header: resp.Header.Clone()}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) (*http.Response, error) {
	accessToken, err := c.creds.AccessToken(ctx)
	if err != nil {
		return nil, credentialError(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}
