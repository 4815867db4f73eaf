package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.dedis.ch/kyber/v4"

	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/domain/negotiation"
)

var (
	ErrNotReady       = errors.New("network: session is waiting for parties")
	ErrNotResolved    = errors.New("network: session not resolved")
	ErrRateLimited    = errors.New("network: rate limited")
	ErrHostOnlyFreeze = errors.New("network: only the host freezes the log")
)

// Client talks to a session host. After Join it implements
// consensus.EventLog for the joined party.
type Client struct {
	base   string
	http   *http.Client
	wait   time.Duration
	retry  time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	token   string
	partyID string
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRootCAs trusts the certificates in pool, e.g. a host's self-signed one.
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(cl *Client) {
		cl.http.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		}
	}
}

// WithLongPoll sets how long one Subscribe request waits on the host.
func WithLongPoll(d time.Duration) ClientOption {
	return func(cl *Client) { cl.wait = d }
}

// WithClientLogger sets the logger; the default is slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithToken resumes a previous join.
func WithToken(partyID, token string) ClientOption {
	return func(cl *Client) {
		cl.partyID = partyID
		cl.token = token
	}
}

// NewClient creates a client for the host at base, e.g. "http://10.0.0.2:8742".
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: time.Minute},
		wait:   20 * time.Second,
		retry:  time.Second,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client", "host", c.base)
	return c
}

// PartyID returns the id assigned on join.
func (c *Client) PartyID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partyID
}

// Join asks the host to admit a party named name. pub may be nil.
func (c *Client) Join(ctx context.Context, name string, pub kyber.Point) (JoinResponse, error) {
	req := JoinRequest{Name: name}
	if pub != nil {
		k, err := consensus.EncodePublicKey(pub)
		if err != nil {
			return JoinResponse{}, err
		}
		req.PublicKey = k
	}
	var resp JoinResponse
	if err := c.do(ctx, http.MethodPost, "/v1/join", req, &resp); err != nil {
		return JoinResponse{}, err
	}
	c.mu.Lock()
	c.partyID, c.token = resp.PartyID, resp.Token
	c.mu.Unlock()
	return resp, nil
}

// Roster returns the public roster, or ErrNotReady.
func (c *Client) Roster(ctx context.Context) (consensus.Roster, error) {
	var r consensus.Roster
	err := c.do(ctx, http.MethodGet, "/v1/roster", nil, &r)
	return r, err
}

// WaitRoster polls the roster until every party joined.
func (c *Client) WaitRoster(ctx context.Context, interval time.Duration) (consensus.Roster, error) {
	for {
		r, err := c.Roster(ctx)
		if !errors.Is(err, ErrNotReady) {
			return r, err
		}
		select {
		case <-ctx.Done():
			return consensus.Roster{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Role returns the caller's private role.
func (c *Client) Role(ctx context.Context) (negotiation.Party, error) {
	var p negotiation.Party
	err := c.do(ctx, http.MethodGet, "/v1/role", nil, &p)
	return p, err
}

// Status returns the session progress.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

// Outcome returns the host's resolved outcome, or ErrNotResolved.
func (c *Client) Outcome(ctx context.Context) (consensus.Outcome, error) {
	var out consensus.Outcome
	err := c.do(ctx, http.MethodGet, "/v1/outcome", nil, &out)
	if errors.Is(err, ErrNotReady) {
		return out, ErrNotResolved
	}
	return out, err
}

func (c *Client) Append(ctx context.Context, e consensus.Event) (uint64, error) {
	var resp appendResponse
	if err := c.do(ctx, http.MethodPost, "/v1/events", e, &resp); err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

func (c *Client) Read(ctx context.Context, afterSeq uint64) ([]consensus.Event, error) {
	resp, err := c.read(ctx, afterSeq, 0)
	if err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) read(ctx context.Context, afterSeq uint64, wait time.Duration) (eventsResponse, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(afterSeq, 10))
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	var resp eventsResponse
	err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &resp)
	return resp, err
}

// Subscribe long-polls the host in the background and signals whenever new
// events arrive or the log gets frozen.
func (c *Client) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		var last uint64
		frozen := false
		for ctx.Err() == nil {
			resp, err := c.read(ctx, last, c.wait)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WarnContext(ctx, "long poll failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.retry):
				}
				continue
			}
			changed := len(resp.Events) > 0 || resp.Frozen != frozen
			if n := len(resp.Events); n > 0 {
				last = resp.Events[n-1].Seq
			}
			frozen = resp.Frozen
			if changed {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
			if frozen && len(resp.Events) == 0 {
				// nothing more can arrive; avoid spinning on a frozen log
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.wait):
				}
			}
		}
	}()
	return ch, nil
}

// Freeze is reserved to the host.
func (c *Client) Freeze(context.Context) error {
	return ErrHostOnlyFreeze
}

func (c *Client) Frozen(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Frozen, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("network: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch {
		case resp.StatusCode == http.StatusConflict && e.Error == "log frozen":
			return consensus.ErrLogFrozen
		case resp.StatusCode == http.StatusConflict && e.Error == "session is full":
			return fmt.Errorf("network: %s", e.Error)
		case resp.StatusCode == http.StatusConflict:
			return ErrNotReady
		case resp.StatusCode == http.StatusTooManyRequests:
			return ErrRateLimited
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		default:
			return fmt.Errorf("network: %s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("network: decode %s: %w", path, err)
	}
	return nil
}

var _ consensus.EventLog = (*Client)(nil)
