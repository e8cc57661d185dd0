package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"custodyledger_go/utils"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
	maxResponseSize      = 1 << 20
)

// ClientConfig configures the HTTP custody client.
type ClientConfig struct {
	URL     string
	Timeout time.Duration
	// MaxRetries bounds retries of transport failures and 5xx answers.
	MaxRetries uint64
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit. Zero disables the breaker threshold and uses 5.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration
	HTTPClient     *http.Client
}

// Client talks to the custody service over HTTP.
type Client struct {
	base       string
	http       *http.Client
	maxRetries uint64
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

type publicKeyResponse struct {
	PublicKey []byte `json:"public_key"`
}

type signRequest struct {
	Input []byte `json:"input"`
}

type signResponse struct {
	Signature []byte `json:"signature"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// response is one completed HTTP exchange.
type response struct {
	status int
	body   []byte
}

var errServer = errors.New("custody server error")

// NewClient returns a client for the custody service at cfg.URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid custody url %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	log := utils.Component("custody-client")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "custody",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		base:       strings.TrimRight(cfg.URL, "/"),
		http:       httpClient,
		maxRetries: cfg.MaxRetries,
		breaker:    breaker,
		log:        log,
	}, nil
}

// ResolvePublicKey implements Custodian.
func (c *Client) ResolvePublicKey(ctx context.Context, id Identity) (rec PublicKeyRecord, err error) {
	defer c.observe("resolve", time.Now(), &err)
	if err := id.Validate(); err != nil {
		return rec, err
	}

	res, err := c.call(ctx, http.MethodGet, "/publickey/"+url.PathEscape(id.Key()), nil)
	if err != nil {
		return rec, unavailable("resolve public key for %s", id).Wrap(err)
	}
	switch {
	case res.status == http.StatusNotFound:
		return rec, notProvisioned(id)
	case res.status != http.StatusOK:
		return rec, unavailable("resolve public key for %s: custody answered %d %s", id, res.status, serverMessage(res.body))
	}

	var body publicKeyResponse
	if err := json.Unmarshal(res.body, &body); err != nil {
		return rec, unavailable("resolve public key for %s: malformed response", id).Wrap(err)
	}
	if err := checkPublicKey(id, body.PublicKey); err != nil {
		return rec, err
	}
	return PublicKeyRecord{Identity: id, PublicKey: body.PublicKey}, nil
}

// Sign implements Custodian. The payload bytes are sent unchanged on every
// attempt.
func (c *Client) Sign(ctx context.Context, id Identity, payload []byte) (sig RawSignature, err error) {
	defer c.observe("sign", time.Now(), &err)
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, signingFailed("empty payload for %s", id)
	}
	reqBody, err := json.Marshal(signRequest{Input: payload})
	if err != nil {
		return nil, signingFailed("encode sign request").Wrap(err)
	}

	res, err := c.call(ctx, http.MethodPost, "/sign/"+url.PathEscape(id.Key()), reqBody)
	if err != nil {
		return nil, unavailable("sign for %s", id).Wrap(err)
	}
	switch {
	case res.status == http.StatusNotFound:
		return nil, notProvisioned(id)
	case res.status != http.StatusOK:
		return nil, signingFailed("custody refused to sign for %s: %d %s", id, res.status, serverMessage(res.body))
	}

	var body signResponse
	if err := json.Unmarshal(res.body, &body); err != nil {
		return nil, signingFailed("sign for %s: malformed response", id).Wrap(err)
	}
	if len(body.Signature) == 0 {
		return nil, signingFailed("custody returned an empty signature for %s", id)
	}
	return RawSignature(body.Signature), nil
}

// call performs one logical request: retried with exponential backoff on
// transport errors and 5xx answers, and short-circuited while the breaker is
// open. Any answer below 500 is returned to the caller to interpret.
func (c *Client) call(ctx context.Context, method, path string, body []byte) (*response, error) {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(defaultRetryInterval))

	var out *response
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		result, err := c.breaker.Execute(func() (interface{}, error) {
			res, err := c.roundTrip(ctx, method, path, body)
			if err != nil {
				return nil, err
			}
			if res.status >= http.StatusInternalServerError {
				return res, fmt.Errorf("%w: %d %s", errServer, res.status, serverMessage(res.body))
			}
			return res, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
				return err
			}
			c.log.Debug().Str("path", path).Int("attempt", attempt).Err(err).Msg("custody call failed, retrying")
			return retry.RetryableError(err)
		}
		out = result.(*response)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := utils.GetRequestIDFromContext(ctx); id != "" {
		req.Header.Set(utils.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) observe(op string, start time.Time, errp *error) {
	CustodyRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	CustodyRequests.WithLabelValues(op, outcome(*errp)).Inc()
}

func serverMessage(body []byte) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
