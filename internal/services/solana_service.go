package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/Josh0007-sunday/chainproofserver/internal/listener"
	"github.com/Josh0007-sunday/chainproofserver/internal/metrics"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

// SignatureWaiter pushes confirmation of a signature, normally over a websocket.
// It returns an error wrapping ErrTransactionFailed when the transaction landed with an error.
type SignatureWaiter interface {
	WaitConfirmed(ctx context.Context, sig solana.Signature) error
}

// RPCChain implements Chain over a Solana JSON-RPC node.
type RPCChain struct {
	client         *rpc.Client
	waiter         SignatureWaiter
	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            *utils.Logger
	metrics        *metrics.Collector
}

type RPCChainOption func(*RPCChain)

func WithSignatureWaiter(w SignatureWaiter) RPCChainOption {
	return func(c *RPCChain) { c.waiter = w }
}

// WithWebsocket pushes confirmations through a signature subscription.
func WithWebsocket(w *listener.SignatureWaiter) RPCChainOption {
	return WithSignatureWaiter(wsWaiter{w})
}

type wsWaiter struct{ w *listener.SignatureWaiter }

func (a wsWaiter) WaitConfirmed(ctx context.Context, sig solana.Signature) error {
	err := a.w.WaitConfirmed(ctx, sig)
	var execErr *listener.ExecError
	if errors.As(err, &execErr) {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, execErr.Err)
	}
	return err
}

func WithConfirmTiming(timeout, poll time.Duration) RPCChainOption {
	return func(c *RPCChain) {
		if timeout > 0 {
			c.confirmTimeout = timeout
		}
		if poll > 0 {
			c.pollInterval = poll
		}
	}
}

func WithChainMetrics(m *metrics.Collector) RPCChainOption {
	return func(c *RPCChain) { c.metrics = m }
}

func NewRPCChain(client *rpc.Client, log *utils.Logger, opts ...RPCChainOption) *RPCChain {
	c := &RPCChain{
		client:         client,
		confirmTimeout: 60 * time.Second,
		pollInterval:   2 * time.Second,
		log:            log.With("chain"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *RPCChain) Simulate(ctx context.Context, tx *solana.Transaction) error {
	res, err := c.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSimulationFailed, err)
	}
	if res == nil || res.Value == nil {
		return fmt.Errorf("%w: empty response", ErrSimulationFailed)
	}
	if res.Value.Err != nil {
		c.log.Debug("模拟失败 logs=%v", res.Value.Logs)
		return fmt.Errorf("%w: %v", ErrSimulationFailed, res.Value.Err)
	}
	return nil
}

// Submit sends the raw transaction with skipPreflight; the verifier simulates
// separately when it wants a preflight.
func (c *RPCChain) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	encBase64, err := utils.EncodeBase64Tx(tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: serialize: %v", ErrSubmitFailed, err)
	}

	var sig solana.Signature
	err = c.client.RPCCallForInto(ctx, &sig, "sendTransaction", []interface{}{
		encBase64,
		map[string]interface{}{
			"skipPreflight":       true,
			"preflightCommitment": "confirmed",
			"encoding":            "base64",
		},
	})
	if err != nil {
		if isAlreadyProcessed(err) {
			c.log.Info("交易已被处理: %s", tx.Signatures[0])
			c.metrics.ObserveSubmission("already_processed")
			return tx.Signatures[0], ErrAlreadyProcessed
		}
		c.metrics.ObserveSubmission("error")
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if sig.IsZero() {
		c.metrics.ObserveSubmission("error")
		return solana.Signature{}, fmt.Errorf("%w: node returned an empty signature", ErrSubmitFailed)
	}
	c.metrics.ObserveSubmission("ok")
	c.log.Debug("广播成功，交易签名: %s", sig)
	return sig, nil
}

func isAlreadyProcessed(err error) bool {
	s := err.Error()
	return strings.Contains(s, "already been processed") || strings.Contains(s, "AlreadyProcessed")
}

// Confirm polls getSignatureStatuses until the signature is confirmed. With a
// waiter configured, the push notification and the poll race; the first answer wins.
func (c *RPCChain) Confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	var pushed chan error
	poll := c.pollInterval
	if c.waiter != nil {
		pushed = make(chan error, 1)
		go func() { pushed <- c.waiter.WaitConfirmed(ctx, sig) }()
		// the poll is only a fallback for a missed notification
		poll *= 4
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		done, err := c.checkStatus(ctx, sig)
		if done {
			return err
		}
		select {
		case err := <-pushed:
			if err == nil || errors.Is(err, ErrTransactionFailed) {
				return err
			}
			c.log.Warn("WebSocket 确认失败，改为轮询: %v", err)
			pushed = nil
			ticker.Reset(c.pollInterval)
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
		}
	}
}

func (c *RPCChain) checkStatus(ctx context.Context, sig solana.Signature) (bool, error) {
	statuses, err := c.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		c.log.Debug("查询交易状态失败 %s: %v", sig, err)
		return false, nil
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return false, nil
	}
	st := statuses.Value[0]
	if st.Err != nil {
		return true, fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}

// FinalizedTransaction reads the transaction at finalized commitment and falls
// back to confirmed, since a just-confirmed transaction may not be finalized yet.
func (c *RPCChain) FinalizedTransaction(ctx context.Context, sig solana.Signature) (*FinalizedTx, error) {
	maxVersion := uint64(0)
	var lastErr error
	for _, commitment := range []rpc.CommitmentType{rpc.CommitmentFinalized, rpc.CommitmentConfirmed} {
		res, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && res == nil) {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}
		return toFinalizedTx(res)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

func toFinalizedTx(res *rpc.GetTransactionResult) (*FinalizedTx, error) {
	out := &FinalizedTx{Slot: res.Slot}
	if res.BlockTime != nil {
		t := res.BlockTime.Time().UTC()
		out.BlockTime = &t
	}
	if res.Transaction != nil {
		tx, err := res.Transaction.GetTransaction()
		if err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		out.AccountKeys = append(out.AccountKeys, tx.Message.AccountKeys...)
	}
	if res.Meta == nil {
		return out, nil
	}
	out.Err = res.Meta.Err
	out.AccountKeys = append(out.AccountKeys, res.Meta.LoadedAddresses.Writable...)
	out.AccountKeys = append(out.AccountKeys, res.Meta.LoadedAddresses.ReadOnly...)

	var err error
	if out.PreTokenBalances, err = toTokenBalances(res.Meta.PreTokenBalances, out.AccountKeys); err != nil {
		return nil, err
	}
	if out.PostTokenBalances, err = toTokenBalances(res.Meta.PostTokenBalances, out.AccountKeys); err != nil {
		return nil, err
	}
	return out, nil
}

func toTokenBalances(in []rpc.TokenBalance, keys []solana.PublicKey) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{AccountIndex: int(b.AccountIndex), Mint: b.Mint}
		if tb.AccountIndex < len(keys) {
			tb.Account = keys[tb.AccountIndex]
		}
		if b.Owner != nil {
			tb.Owner = *b.Owner
		}
		if b.UiTokenAmount != nil {
			amt, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("token balance amount %q: %w", b.UiTokenAmount.Amount, err)
			}
			tb.Amount = amt
			tb.Decimals = b.UiTokenAmount.Decimals
		}
		out = append(out, tb)
	}
	return out, nil
}

// ExplorerURL builds the explorer link returned with accepted payments.
func ExplorerURL(sig, cluster string) string {
	return "https://explorer.solana.com/tx/" + sig + "?cluster=" + cluster
}
