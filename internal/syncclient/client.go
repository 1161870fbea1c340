// Package syncclient keeps a predictor in step with the engine: it streams
// pushes over the websocket feed and pulls full state on an interval and
// after every reconnect.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/predictor"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrUnauthorized = errors.New("server rejected the session token")

type Config struct {
	ServerURL      string
	Token          string
	PullInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
	// OnChange runs after every adopted push or pull
	OnChange func()
}

type Client struct {
	config    Config
	predictor *predictor.Predictor
	dialer    *websocket.Dialer
	now       func() time.Time
}

func New(config Config, p *predictor.Predictor) *Client {
	if config.PullInterval <= 0 {
		config.PullInterval = 30 * time.Second
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.HTTPClient == nil {
		httpClient, err := newHTTPClient()
		if err != nil {
			zap.L().Warn("HTTP/2 unavailable for state pulls", zap.Error(err))
			httpClient = &http.Client{Timeout: 15 * time.Second}
		}
		config.HTTPClient = httpClient
	}
	return &Client{
		config:    config,
		predictor: p,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:       time.Now,
	}
}

// Run streams and pulls until ctx is cancelled or the token is rejected
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.stream(ctx) })
	g.Go(func() error { return c.pullLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Pull fetches the full state and reconciles the predictor with it
func (c *Client) Pull(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.config.ServerURL, "/")+"/v1/state", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("state request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("state request failed with status %d", resp.StatusCode)
	}

	var state models.StateView
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return fmt.Errorf("unable to decode state: %w", err)
	}

	c.predictor.Reconcile(state, c.now())
	c.changed()
	return nil
}

func (c *Client) pullLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.config.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Pull(ctx); err != nil {
				if errors.Is(err, ErrUnauthorized) {
					return err
				}
				if ctx.Err() == nil {
					zap.L().Warn("State pull failed", zap.Error(err))
				}
			}
		}
	}
}

func (c *Client) stream(ctx context.Context) error {
	for {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = c.config.InitialBackoff
		policy.MaxInterval = c.config.MaxBackoff

		conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
			return c.dial(ctx)
		},
			backoff.WithBackOff(policy),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				zap.L().Warn("Feed connection failed, retrying",
					zap.Duration("retry_in", next),
					zap.Error(err))
			}))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		// Anything pushed while we were away is only visible in a pull
		if err := c.Pull(ctx); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				conn.Close()
				return err
			}
			zap.L().Warn("State pull after connect failed", zap.Error(err))
		}

		err = c.read(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		zap.L().Info("Feed connection lost, reconnecting", zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.InitialBackoff):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := feedURL(c.config.ServerURL)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.Token)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, backoff.Permanent(ErrUnauthorized)
		}
		return nil, err
	}
	zap.L().Info("Feed connected", zap.String("url", wsURL))
	return conn, nil
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if c.predictor.Apply(msg) {
			c.changed()
		}
	}
}

func (c *Client) changed() {
	if c.config.OnChange != nil {
		c.config.OnChange()
	}
}

func feedURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	return u.String(), nil
}
