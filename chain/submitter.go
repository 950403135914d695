package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"lendflow/observability/metrics"
)

var (
	// ErrUpstreamTimeout reports a submission that exceeded its deadline.
	// Retryable; a timeout never surfaces as a silent success.
	ErrUpstreamTimeout = errors.New("chain: upstream timeout")
	// ErrRejected reports a submission the node refused.
	ErrRejected = errors.New("chain: transaction rejected")
)

// SignedTx is an opaque signed transaction payload ready for broadcast.
// Signing happens outside the backend; the core only forwards bytes.
type SignedTx struct {
	Raw []byte
}

// Submitter broadcasts signed transactions and reports node liveness.
type Submitter interface {
	Submit(ctx context.Context, tx SignedTx) (string, error)
	Ping(ctx context.Context) error
}

// RPCSubmitter broadcasts through an Ethereum JSON-RPC endpoint. Every call
// is bounded by Timeout.
type RPCSubmitter struct {
	client  *rpc.Client
	timeout time.Duration
}

// DialSubmitter connects to the node RPC endpoint.
func DialSubmitter(ctx context.Context, url string, timeout time.Duration) (*RPCSubmitter, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCSubmitter{client: client, timeout: timeout}, nil
}

// Submit broadcasts the raw transaction and returns the reported hash.
func (s *RPCSubmitter) Submit(ctx context.Context, tx SignedTx) (string, error) {
	if len(tx.Raw) == 0 {
		return "", ErrRejected
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var hash string
	err := s.client.CallContext(ctx, &hash, "eth_sendRawTransaction", fmt.Sprintf("0x%x", tx.Raw))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.SubmitFailures.WithLabelValues("timeout").Inc()
			return "", ErrUpstreamTimeout
		}
		metrics.SubmitFailures.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return hash, nil
}

// Ping checks node connectivity within the submitter's timeout.
func (s *RPCSubmitter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var chainID string
	if err := s.client.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrUpstreamTimeout
		}
		return err
	}
	return nil
}

// Close releases the underlying RPC connection.
func (s *RPCSubmitter) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}

// RetryingSubmitter retries timed-out submissions with bounded exponential
// backoff. Rejections are final and never retried.
type RetryingSubmitter struct {
	Next      Submitter
	Attempts  int
	BaseDelay time.Duration
}

// NewRetryingSubmitter wraps next with up to attempts tries.
func NewRetryingSubmitter(next Submitter, attempts int, baseDelay time.Duration) *RetryingSubmitter {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return &RetryingSubmitter{Next: next, Attempts: attempts, BaseDelay: baseDelay}
}

// Submit implements Submitter.
func (r *RetryingSubmitter) Submit(ctx context.Context, tx SignedTx) (string, error) {
	delay := r.BaseDelay
	var lastErr error
	for attempt := 0; attempt < r.Attempts; attempt++ {
		hash, err := r.Next.Submit(ctx, tx)
		if err == nil {
			return hash, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUpstreamTimeout) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ErrUpstreamTimeout
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}

// Ping implements Submitter.
func (r *RetryingSubmitter) Ping(ctx context.Context) error {
	return r.Next.Ping(ctx)
}

// NoopSubmitter acknowledges submissions without broadcasting. Used in
// development and tests; the returned hash is deterministic over the intent
// payload so callers can correlate.
type NoopSubmitter struct{}

// Submit implements Submitter.
func (NoopSubmitter) Submit(_ context.Context, tx SignedTx) (string, error) {
	return ethcrypto.Keccak256Hash(tx.Raw).Hex(), nil
}

// Ping implements Submitter.
func (NoopSubmitter) Ping(context.Context) error { return nil }

// IntentTx encodes a business action as the payload for submission. Until a
// signing service is attached the backend broadcasts intent digests only.
func IntentTx(action string, fields map[string]string) SignedTx {
	payload, err := json.Marshal(struct {
		Action string            `json:"action"`
		Fields map[string]string `json:"fields"`
		Nonce  int64             `json:"nonce"`
	}{Action: action, Fields: fields, Nonce: time.Now().UnixNano()})
	if err != nil {
		payload = []byte(action)
	}
	return SignedTx{Raw: payload}
}
