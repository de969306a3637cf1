package beefweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fb2kstat/beefweb/model"
)

const (
	DefaultRoot    = "http://127.0.0.1:8880/api"
	DefaultTimeout = 10 * time.Second
)

// Client talks to the beefweb plugin of a foobar2000 instance.
type Client struct {
	root     *url.URL
	username string
	password string

	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth sets the credentials sent with every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTimeout bounds plain requests. Event streams are bounded only by ctx.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the transport used for both request kinds.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		stream := *hc
		stream.Timeout = 0
		c.streamClient = &stream
	}
}

// WithLogger sets the logger used for skipped events.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the API rooted at root.
func NewClient(root string, opts ...Option) (*Client, error) {
	if root == "" {
		root = DefaultRoot
	}
	u, err := url.Parse(strings.TrimSuffix(root, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api root %q: %w", root, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api root %q: scheme and host required", root)
	}

	c := &Client{
		root:         u,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetPlayer returns the current player state with the given active-item columns.
func (c *Client) GetPlayer(ctx context.Context, columns []string) (*model.Player, error) {
	params := url.Values{}
	if len(columns) > 0 {
		params.Set("columns", strings.Join(columns, ","))
	}

	var resp model.PlayerResponse
	if err := c.getJSON(ctx, "get player", "player", params, &resp); err != nil {
		return nil, err
	}
	return &resp.Player, nil
}

// Query returns the requested sections in one round trip.
func (c *Client) Query(ctx context.Context, params model.QueryParams) (*model.QueryResponse, error) {
	var resp model.QueryResponse
	if err := c.getJSON(ctx, "query", "query", encodeQuery(params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TogglePause flips between playing and paused.
func (c *Client) TogglePause(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "player/pause/toggle", nil)
	if err != nil {
		return &Error{Op: "toggle pause", Kind: ErrRequest, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "toggle pause", Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: "toggle pause", Kind: ErrStatus, Err: fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)}
	}
	return nil
}

// QueryUpdates subscribes to query/updates and calls fn for every message
// event, in arrival order, on the calling goroutine. It returns when ctx is
// done, when fn fails, or when the stream breaks; a broken stream is always
// reported as a transport *Error.
func (c *Client) QueryUpdates(ctx context.Context, params model.QueryParams, fn func(*model.QueryResponse) error) error {
	const op = "query updates"

	req, err := c.newRequest(ctx, http.MethodGet, "query/updates", encodeQuery(params))
	if err != nil {
		return &Error{Op: op, Kind: ErrRequest, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Op: op, Kind: ErrStatus, Err: fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)}
	}

	events := newEventReader(resp.Body)
	for {
		ev, err := events.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			return &Error{Op: op, Kind: ErrNetwork, Err: err}
		}
		if ev.Event != "message" || ev.Data == "" {
			continue
		}

		var qr model.QueryResponse
		if err := json.Unmarshal([]byte(ev.Data), &qr); err != nil {
			c.logger.Warn("Skipping undecodable event", zap.String("data", ev.Data), zap.Error(err))
			continue
		}
		if err := fn(&qr); err != nil {
			return err
		}
	}
}

func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, params)
	if err != nil {
		return &Error{Op: op, Kind: ErrRequest, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Op: op, Kind: ErrStatus, Err: fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: ErrDecode, Err: err}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	u := c.root.JoinPath(path)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// encodeQuery renders booleans as true/false and joins column lists.
func encodeQuery(p model.QueryParams) url.Values {
	v := url.Values{}
	if p.Player {
		v.Set("player", strconv.FormatBool(true))
	}
	if len(p.TrColumns) > 0 {
		v.Set("trcolumns", strings.Join(p.TrColumns, ","))
	}
	if p.Playlists {
		v.Set("playlists", strconv.FormatBool(true))
	}
	if p.PlaylistItems {
		v.Set("playlistItems", strconv.FormatBool(true))
	}
	if p.PlRef != "" {
		v.Set("plref", p.PlRef)
	}
	if p.PlRange != "" {
		v.Set("plrange", p.PlRange)
	}
	if len(p.PlColumns) > 0 {
		v.Set("plcolumns", strings.Join(p.PlColumns, ","))
	}
	return v
}
