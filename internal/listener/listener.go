package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/Josh0007-sunday/chainproofserver/utils"
)

var ErrClosed = errors.New("listener closed")

// ExecError is returned when the notification reports a failed transaction.
type ExecError struct {
	Signature solana.Signature
	Err       interface{}
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
}

// subscriber opens signature subscriptions; *ws.Client satisfies it.
type subscriber interface {
	SignatureSubscribe(sig solana.Signature, commitment rpc.CommitmentType) (*ws.SignatureSubscription, error)
	Close()
}

// SignatureWaiter waits for signature notifications over one shared websocket,
// reconnecting when a subscribe call fails.
type SignatureWaiter struct {
	wsURL      string
	commitment rpc.CommitmentType
	maxRetries int
	log        *utils.Logger

	mu     sync.Mutex
	client subscriber
	closed bool
	dial   func(ctx context.Context, url string) (subscriber, error)
}

func NewSignatureWaiter(wsURL string, log *utils.Logger) *SignatureWaiter {
	return &SignatureWaiter{
		wsURL:      wsURL,
		commitment: rpc.CommitmentConfirmed,
		maxRetries: 5,
		log:        log.With("listener"),
		dial: func(ctx context.Context, url string) (subscriber, error) {
			return ws.Connect(ctx, url)
		},
	}
}

func (w *SignatureWaiter) conn(ctx context.Context) (subscriber, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if w.client != nil {
		return w.client, nil
	}
	// the connection outlives the request that opened it
	c, err := w.dial(context.WithoutCancel(ctx), w.wsURL)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 连接失败: %w", err)
	}
	w.client = c
	return c, nil
}

// reset drops a broken connection so the next call dials again.
func (w *SignatureWaiter) reset(broken subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == broken && broken != nil {
		broken.Close()
		w.client = nil
	}
}

func (w *SignatureWaiter) subscribe(ctx context.Context, sig solana.Signature) (*ws.SignatureSubscription, error) {
	var lastErr error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		c, err := w.conn(ctx)
		if err == nil {
			sub, serr := c.SignatureSubscribe(sig, w.commitment)
			if serr == nil {
				return sub, nil
			}
			w.reset(c)
			err = serr
		}
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		lastErr = err
		w.log.Warn("订阅 %s 失败，重连中 (第 %d/%d 次): %v", sig, attempt+1, w.maxRetries, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("订阅 %s 失败，已达最大重试次数: %w", sig, lastErr)
}

// WaitConfirmed blocks until the node notifies sig at confirmed commitment.
// A failed transaction yields an *ExecError.
func (w *SignatureWaiter) WaitConfirmed(ctx context.Context, sig solana.Signature) error {
	sub, err := w.subscribe(ctx, sig)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	res, err := sub.Recv(ctx)
	if err != nil {
		return fmt.Errorf("通知接收失败 %s: %w", sig, err)
	}
	if res != nil && res.Value.Err != nil {
		return &ExecError{Signature: sig, Err: res.Value.Err}
	}
	w.log.Debug("交易已确认: %s", sig)
	return nil
}

func (w *SignatureWaiter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
}
