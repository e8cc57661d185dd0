// Package node is the HTTP client for a ledger node's transaction API.
package node

import (
	"bytes"
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

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"custodyledger_go/address"
	"custodyledger_go/utils"
)

// TokenHeader carries the optional node API token.
const TokenHeader = "X-Node-API-Token"

const maxBody = 4 << 20

// Params are the node's current transaction parameters.
type Params struct {
	// Fee is the per-byte fee.
	Fee         uint64         `json:"fee"`
	MinFee      uint64         `json:"min-fee"`
	LastRound   uint64         `json:"last-round"`
	GenesisID   string         `json:"genesis-id"`
	GenesisHash address.Digest `json:"genesis-hash"`
}

// PendingTransaction reports where a submitted transaction stands.
// ConfirmedRound is zero until it is in a block; a non-empty PoolError means
// the node dropped it.
type PendingTransaction struct {
	ConfirmedRound uint64 `json:"confirmed-round"`
	PoolError      string `json:"pool-error"`
}

// Status is the node's chain position.
type Status struct {
	LastRound uint64 `json:"last-round"`
}

// SubmitResponse is the answer to a raw transaction submission.
type SubmitResponse struct {
	TxID string `json:"txId"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ErrNotFound is returned when the node does not know a transaction.
var ErrNotFound = errors.New("node: not found")

// RejectedError is a 4xx answer: the node understood the request and
// refused it. Message is the node's own text.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("node rejected request (%d): %s", e.Status, e.Message)
}

// Config configures the node client.
type Config struct {
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
	HTTPClient *http.Client
}

// Client is a node API client. Reads are retried; submissions never are.
type Client struct {
	base       string
	token      string
	maxRetries uint64
	http       *http.Client
	log        zerolog.Logger
}

// NewClient returns a client for the node at cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid node url %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:       strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		http:       hc,
		log:        utils.Component("node-client"),
	}, nil
}

// TransactionParams fetches the current suggested parameters.
func (c *Client) TransactionParams(ctx context.Context) (*Params, error) {
	var p Params
	if err := c.get(ctx, "/transaction-params", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SendRawTransaction posts one or more concatenated signed records and
// returns the transaction id the node reports for the first.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/raw-transaction", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-binary")

	var out SubmitResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// PendingTransaction fetches the pool state of txid.
func (c *Client) PendingTransaction(ctx context.Context, txid string) (*PendingTransaction, error) {
	var p PendingTransaction
	if err := c.get(ctx, "/pending-transaction/"+url.PathEscape(txid), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Status fetches the node's last round.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StatusAfterBlock blocks until the node has a round after round, or the
// node's own wait limit passes.
func (c *Client) StatusAfterBlock(ctx context.Context, round uint64) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/status/wait-for-block-after/"+strconv.FormatUint(round, 10), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		err = c.do(req, out)
		var rejected *RejectedError
		if err == nil || errors.Is(err, ErrNotFound) || errors.As(err, &rejected) || ctx.Err() != nil {
			return err
		}
		c.log.Debug().Str("path", path).Err(err).Msg("node read failed, retrying")
		return retry.RetryableError(err)
	})
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	if id := utils.GetRequestIDFromContext(ctx); id != "" {
		req.Header.Set(utils.RequestIDHeader, id)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &RejectedError{Status: resp.StatusCode, Message: message(data)}
	case resp.StatusCode >= 500:
		return fmt.Errorf("node error %d: %s", resp.StatusCode, message(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode node response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func message(body []byte) string {
	var e ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
