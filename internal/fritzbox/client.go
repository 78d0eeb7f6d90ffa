// Package fritzbox implements the router's challenge-response login and the
// LAN device list query.
package fritzbox

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HerbHall/homewatch/pkg/models"
	"go.uber.org/zap"
)

// InvalidSID is the session id the router reports when no session exists.
const InvalidSID = "0000000000000000"

// deviceQuery selects name and active flag of every known LAN device.
const deviceQuery = "landevice:settings/landevice/list(name, active)"

// maxBodyBytes caps how much of a router reply is read.
const maxBodyBytes = 4 << 20

// Config holds router connection settings.
type Config struct {
	// Address is a host[:port] or a full base URL. Plain hosts use http.
	Address string
	// Timeout bounds each HTTP request. Zero means 10s.
	Timeout time.Duration
}

// Authenticator establishes a router session and returns its SID.
type Authenticator interface {
	Authenticate(ctx context.Context, creds models.Credentials) (string, error)
}

var _ Authenticator = (*Client)(nil)

// Client talks to one router.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
}

// New creates a Client for the configured router address.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

func parseAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("fritzbox: address is required")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("fritzbox: parse address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("fritzbox: address %q has no host", address)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// Host returns the router host without port, for reachability checks.
func (c *Client) Host() string {
	return c.baseURL.Hostname()
}

// sessionInfo is the document served by login_sid.lua. Pointer fields
// distinguish a missing element from an empty one.
type sessionInfo struct {
	XMLName   xml.Name `xml:"SessionInfo"`
	SID       *string  `xml:"SID"`
	Challenge *string  `xml:"Challenge"`
	BlockTime int      `xml:"BlockTime"`
}

// Authenticate performs one complete login: it fetches a fresh challenge,
// answers it and returns the session id. Every failure is an *AuthError.
func (c *Client) Authenticate(ctx context.Context, creds models.Credentials) (string, error) {
	challenge, err := c.challenge(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("user", creds.Username)
	q.Set("response", ResponseHash(challenge, creds.Password))
	info, status, err := c.getSessionInfo(ctx, q)
	if err != nil {
		if status != 0 || !isParseError(err) {
			return "", &AuthError{Kind: LoginRejected, Op: "login", Err: err}
		}
		return "", &AuthError{Kind: MalformedResponse, Op: "login", Err: err}
	}
	if info.SID == nil {
		return "", &AuthError{Kind: MalformedResponse, Op: "login", Err: errors.New("missing SID element")}
	}
	sid := strings.TrimSpace(*info.SID)
	if sid == "" {
		return "", &AuthError{Kind: MalformedResponse, Op: "login", Err: errors.New("empty SID element")}
	}
	if sid == InvalidSID {
		return "", &AuthError{
			Kind:      LoginRejected,
			Op:        "login",
			BlockTime: time.Duration(info.BlockTime) * time.Second,
		}
	}

	c.logger.Debug("router login succeeded", zap.String("host", c.baseURL.Host))
	return sid, nil
}

func (c *Client) challenge(ctx context.Context) (string, error) {
	info, status, err := c.getSessionInfo(ctx, nil)
	if err != nil {
		if status != 0 || !isParseError(err) {
			return "", &AuthError{Kind: ChallengeUnavailable, Op: "challenge", Err: err}
		}
		return "", &AuthError{Kind: MalformedResponse, Op: "challenge", Err: err}
	}
	if info.Challenge == nil {
		return "", &AuthError{Kind: MalformedResponse, Op: "challenge", Err: errors.New("missing Challenge element")}
	}
	challenge := strings.TrimSpace(*info.Challenge)
	if challenge == "" {
		return "", &AuthError{Kind: MalformedResponse, Op: "challenge", Err: errors.New("empty Challenge element")}
	}
	return challenge, nil
}

// parseError marks a reply that arrived intact but could not be decoded.
type parseError struct{ err error }

func (e *parseError) Error() string { return "decode session info: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func isParseError(err error) bool {
	var pe *parseError
	return errors.As(err, &pe)
}

// getSessionInfo fetches login_sid.lua. status is non-zero only for
// non-success HTTP replies.
func (c *Client) getSessionInfo(ctx context.Context, query url.Values) (sessionInfo, int, error) {
	var info sessionInfo
	u := c.endpoint("/login_sid.lua")
	if query != nil {
		u.RawQuery = encodeOrdered(query, "user", "response")
	}

	body, status, err := c.get(ctx, u.String())
	if err != nil {
		return info, status, err
	}
	if err := xml.Unmarshal(body, &info); err != nil {
		return info, 0, &parseError{err: err}
	}
	return info, 0, nil
}

// deviceList is the reply of the LAN device query.
type deviceList struct {
	Network []models.Client `json:"network"`
}

// Devices fetches the LAN device list using an authenticated session id.
// Failures are returned as *PollError.
func (c *Client) Devices(ctx context.Context, sid string) ([]models.Client, error) {
	u := c.endpoint("/query.lua")
	u.RawQuery = encodeOrdered(url.Values{
		"sid":     {sid},
		"network": {deviceQuery},
	}, "sid", "network")

	body, status, err := c.get(ctx, u.String())
	if err != nil {
		return nil, &PollError{Status: status, Err: err}
	}

	var list deviceList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &PollError{Err: fmt.Errorf("decode device list: %w", err)}
	}
	if list.Network == nil {
		return nil, &PollError{Err: errors.New("reply has no network element")}
	}
	return list.Network, nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path += path
	return &u
}

// get performs a GET and returns the body of a 2xx reply.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return body, 0, nil
}

// encodeOrdered encodes q with keys in the given order rather than sorted.
func encodeOrdered(q url.Values, keys ...string) string {
	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
