// Package rpc is the endpoint manager: a JSON-RPC client over an ordered list
// of endpoints with per-endpoint retry and in-order failover. It keeps no
// health state between calls, so every call starts again from the first
// endpoint.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/okian/safescore/pkg/metrics"
)

// Defaults for the endpoint manager.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 600 * time.Millisecond
)

// Client calls JSON-RPC methods with failover across endpoints. Each
// endpoint gets its own go-ethereum rpc.Client, dialed on first use.
type Client struct {
	endpoints []string
	hc        *http.Client
	timeout   time.Duration
	policy    Policy
	logger    logger.Logger

	mu    sync.Mutex
	conns map[string]*gethrpc.Client
}

// New creates a client over the given endpoints, in priority order. Blank
// entries are dropped.
func New(endpoints []string, opts ...Option) (*Client, error) {
	c := &Client{
		timeout: DefaultTimeout,
		policy: Policy{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBackoff,
			MaxDelay:    10 * DefaultBackoff,
		},
		conns: map[string]*gethrpc.Client{},
	}
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			c.endpoints = append(c.endpoints, e)
		}
	}
	if len(c.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.hc == nil {
		c.hc = &http.Client{}
	}
	c.hc.Timeout = c.timeout
	if c.logger == nil {
		c.logger = logger.Get().Named("rpc")
	}
	return c, nil
}

// Endpoints returns a copy of the configured endpoints.
func (c *Client) Endpoints() []string {
	out := make([]string, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// Close releases every dialed endpoint.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for endpoint, conn := range c.conns {
		conn.Close()
		delete(c.conns, endpoint)
	}
	return nil
}

func (c *Client) conn(ctx context.Context, endpoint string) (*gethrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[endpoint]; ok {
		return conn, nil
	}
	conn, err := gethrpc.DialOptions(ctx, endpoint, gethrpc.WithHTTPClient(c.hc))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}
	c.conns[endpoint] = conn
	return conn, nil
}

// Call executes method against the endpoints in order, decoding the result
// into result, and returns the endpoint that produced it. It fails with
// *Error only when every endpoint failed.
func (c *Client) Call(ctx context.Context, result any, method string, params ...any) (string, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRPCLatency(method, float64(time.Since(start).Milliseconds()))
	}()

	var (
		lastErr      error
		lastEndpoint string
	)
	for i, endpoint := range c.endpoints {
		if i > 0 {
			metrics.RecordRPCFailover(method)
		}

		p := c.policy
		p.OnRetry = func(attempt int, wait time.Duration, err error) {
			metrics.RecordRPCRetry(method)
			c.logger.Debug(ctx, "retrying rpc call",
				logger.String("method", method),
				logger.String("endpoint", Redact(endpoint)),
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Error(err),
			)
		}
		err := p.do(ctx, func(ctx context.Context) error {
			return c.call(ctx, endpoint, result, method, params)
		})
		if err == nil {
			metrics.RecordRPCCall(method, "ok")
			return endpoint, nil
		}

		lastErr, lastEndpoint = err, endpoint
		c.logger.Warn(ctx, "rpc endpoint failed",
			logger.String("method", method),
			logger.String("endpoint", Redact(endpoint)),
			logger.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.RecordRPCCall(method, "error")
	return lastEndpoint, &Error{Method: method, Endpoint: lastEndpoint, Err: lastErr}
}

// call makes one attempt against one endpoint and maps go-ethereum's errors
// onto this package's kinds.
func (c *Client) call(ctx context.Context, endpoint string, result any, method string, params []any) error {
	conn, err := c.conn(ctx, endpoint)
	if err != nil {
		return err
	}
	err = conn.CallContext(ctx, result, method, params...)
	if err == nil {
		return nil
	}

	var (
		httpErr   gethrpc.HTTPError
		codeErr   gethrpc.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &httpErr):
		return &StatusError{Code: httpErr.StatusCode}
	case errors.As(err, &codeErr):
		return &ResponseError{Code: codeErr.ErrorCode(), Message: codeErr.Error()}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, gethrpc.ErrNoResult):
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return err
}

// ChainID returns eth_chainId and the endpoint that answered. It is used as
// the run's liveness probe.
func (c *Client) ChainID(ctx context.Context) (uint64, string, error) {
	var id hexutil.Uint64
	endpoint, err := c.Call(ctx, &id, "eth_chainId")
	return uint64(id), endpoint, err
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	_, err := c.Call(ctx, &n, "eth_blockNumber")
	return uint64(n), err
}

// BlockByNumber fetches a block with full transaction objects. A null result
// (unknown block) is an error.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*model.RawBlock, error) {
	var b *model.RawBlock
	if _, err := c.Call(ctx, &b, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("block %d: %w", number, ErrNullResult)
	}
	return b, nil
}

// EthCall executes a read-only call against the latest block and returns the
// decoded return data.
func (c *Client) EthCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	var out hexutil.Bytes
	msg := CallMsg{To: to, Data: hexutil.Encode(data)}
	if _, err := c.Call(ctx, &out, "eth_call", msg, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}
