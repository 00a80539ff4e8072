package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Josh0007-sunday/chainproofserver/internal/db"
	"github.com/Josh0007-sunday/chainproofserver/internal/lock"
	"github.com/Josh0007-sunday/chainproofserver/internal/metrics"
	"github.com/Josh0007-sunday/chainproofserver/internal/models"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

// Reason is a payment rejection kind reported to callers.
type Reason string

const (
	ReasonMalformedTransaction  Reason = "MalformedTransaction"
	ReasonPreviouslyFailed      Reason = "PreviouslyFailed"
	ReasonNoTransferInstruction Reason = "NoTransferInstruction"
	ReasonInsufficientAmount    Reason = "InsufficientAmount"
	ReasonSimulationFailed      Reason = "SimulationFailed"
	ReasonSubmissionFailed      Reason = "SubmissionFailed"
	ReasonConfirmationFailed    Reason = "ConfirmationFailed"
	ReasonNoMatchingTransfer    Reason = "NoMatchingTransfer"
	ReasonTransactionNotFound   Reason = "TransactionNotFound"
)

// VerifyError carries a rejection reason and the underlying cause.
type VerifyError struct {
	Reason Reason
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *VerifyError) Unwrap() error { return e.Err }

func reject(reason Reason, err error) *VerifyError {
	return &VerifyError{Reason: reason, Err: err}
}

// Result is the outcome of one verification. Failure is set iff Accepted is false.
type Result struct {
	Accepted  bool
	Signature string
	Record    *models.PaymentRecord
	Failure   *VerifyError
}

// FailureReason returns the rejection reason, or "" when accepted.
func (r *Result) FailureReason() string {
	if r.Failure == nil {
		return ""
	}
	return string(r.Failure.Reason)
}

const (
	VariantPayment    = "payment"
	VariantRewardPool = "reward_pool"
)

// VerifierConfig is fixed for the lifetime of a Verifier.
type VerifierConfig struct {
	Variant      string
	Network      models.Network
	TokenProgram solana.PublicKey
	Mint         solana.PublicKey
	Recipient    solana.PublicKey // wallet or token account
	MinAmount    uint64
	Simulate     bool
}

// Verifier checks a client-signed token transfer, lands it and records the outcome.
type Verifier struct {
	cfg     VerifierConfig
	chain   Chain
	store   db.PaymentStore
	locker  lock.Locker
	metrics *metrics.Collector
	log     *utils.Logger
	now     func() time.Time
}

func NewVerifier(cfg VerifierConfig, chain Chain, store db.PaymentStore, locker lock.Locker, m *metrics.Collector, log *utils.Logger) *Verifier {
	if cfg.TokenProgram.IsZero() {
		cfg.TokenProgram = solana.TokenProgramID
	}
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Verifier{
		cfg:     cfg,
		chain:   chain,
		store:   store,
		locker:  locker,
		metrics: m,
		log:     log.With("verify:" + cfg.Variant),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (v *Verifier) Config() VerifierConfig { return v.cfg }

// Verify runs the whole pipeline for one encoded transaction. Payment failures come
// back in Result; a non-nil error means the store or lock was unavailable.
func (v *Verifier) Verify(ctx context.Context, encodedTx, endpoint, requesterID string) (res *Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "error"
		switch {
		case err != nil:
		case res.Accepted:
			outcome = "accepted"
		default:
			outcome = res.FailureReason()
		}
		v.metrics.ObserveVerification(v.cfg.Variant, outcome, time.Since(start))
	}()

	tx, err := utils.DecodeBase64Tx(encodedTx)
	if err != nil {
		return v.rejected("", reject(ReasonMalformedTransaction, err)), nil
	}
	sig := tx.Signatures[0]
	signature := sig.String()

	unlock, err := v.locker.Lock(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", signature, err)
	}
	defer unlock()

	existing, err := v.store.FindBySignature(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", signature, err)
	}
	if existing != nil {
		switch existing.Status {
		case models.StatusConfirmed:
			v.log.Info("重复请求，已确认: %s", signature)
			return &Result{Accepted: true, Signature: signature, Record: existing}, nil
		case models.StatusFailed:
			return v.rejected(signature, reject(ReasonPreviouslyFailed, errors.New(existing.FailReason))), nil
		}
	}

	transfer, err := findTransfer(tx, v.cfg.TokenProgram, v.cfg.Mint)
	if err != nil {
		return v.rejected(signature, reject(ReasonNoTransferInstruction, err)), nil
	}
	if transfer.Amount < v.cfg.MinAmount {
		return v.rejected(signature, reject(ReasonInsufficientAmount,
			fmt.Errorf("instruction amount %d below minimum %d", transfer.Amount, v.cfg.MinAmount))), nil
	}

	if v.cfg.Simulate {
		if err := v.chain.Simulate(ctx, tx); err != nil {
			return v.rejected(signature, reject(ReasonSimulationFailed, err)), nil
		}
	}

	landed, err := v.chain.Submit(ctx, tx)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		// a retry or a concurrent caller already landed it; carry on with our own signature
		landed = sig
	case err != nil:
		return v.rejected(signature, reject(ReasonSubmissionFailed, err)), nil
	case !landed.Equals(sig):
		v.log.Warn("节点返回签名 %s 与交易签名 %s 不一致", landed, signature)
		landed = sig
	}

	if err := v.chain.Confirm(ctx, landed); err != nil {
		if errors.Is(err, ErrTransactionFailed) {
			return v.persistFailure(ctx, signature, endpoint, requesterID, transfer, reject(ReasonConfirmationFailed, err))
		}
		// a timeout is not a verdict: the transaction may still land, so a retry must be able to pick it up
		return v.rejected(signature, reject(ReasonConfirmationFailed, err)), nil
	}

	ftx, err := v.chain.FinalizedTransaction(ctx, landed)
	if err != nil {
		return v.rejected(signature, reject(ReasonTransactionNotFound, err)), nil
	}
	if ftx == nil {
		return v.rejected(signature, reject(ReasonTransactionNotFound, nil)), nil
	}
	if ftx.Err != nil {
		return v.persistFailure(ctx, signature, endpoint, requesterID, transfer,
			reject(ReasonConfirmationFailed, fmt.Errorf("%w: %v", ErrTransactionFailed, ftx.Err)))
	}

	received, sender := matchTransfer(ftx, v.cfg.Mint, v.cfg.Recipient)
	if received == nil {
		return v.rejected(signature, reject(ReasonNoMatchingTransfer,
			fmt.Errorf("no %s increase for %s", v.cfg.Mint, v.cfg.Recipient))), nil
	}
	if received.Amount < v.cfg.MinAmount {
		return v.rejected(signature, reject(ReasonInsufficientAmount,
			fmt.Errorf("received %d below minimum %d", received.Amount, v.cfg.MinAmount))), nil
	}
	if sender.IsZero() {
		sender = transfer.Authority
	}

	now := v.now()
	slot := ftx.Slot
	rec := &models.PaymentRecord{
		Signature:   signature,
		Amount:      received.Amount,
		Decimals:    received.Decimals,
		TokenMint:   v.cfg.Mint.String(),
		Sender:      sender.String(),
		Recipient:   v.cfg.Recipient.String(),
		Endpoint:    endpoint,
		RequesterID: requesterID,
		Variant:     v.cfg.Variant,
		Status:      models.StatusConfirmed,
		Network:     v.cfg.Network,
		Slot:        &slot,
		BlockTime:   ftx.BlockTime,
		CreatedAt:   now,
		VerifiedAt:  &now,
	}
	stored, err := v.store.UpsertBySignature(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", signature, err)
	}
	return v.fromStored(signature, stored, nil), nil
}

// persistFailure records a failed payment so retries of the same signature are
// rejected in the lookup step.
func (v *Verifier) persistFailure(ctx context.Context, signature, endpoint, requesterID string, t *TransferInstruction, verr *VerifyError) (*Result, error) {
	sender := t.Authority
	if sender.IsZero() {
		sender = t.Source
	}
	rec := &models.PaymentRecord{
		Signature:   signature,
		Amount:      t.Amount,
		Decimals:    t.Decimals,
		TokenMint:   v.cfg.Mint.String(),
		Sender:      sender.String(),
		Recipient:   v.cfg.Recipient.String(),
		Endpoint:    endpoint,
		RequesterID: requesterID,
		Variant:     v.cfg.Variant,
		Status:      models.StatusFailed,
		Network:     v.cfg.Network,
		FailReason:  string(verr.Reason),
		CreatedAt:   v.now(),
	}
	stored, err := v.store.UpsertBySignature(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", signature, err)
	}
	return v.fromStored(signature, stored, verr), nil
}

// fromStored reports whatever state the store holds, which may have been
// written by a concurrent caller.
func (v *Verifier) fromStored(signature string, stored *models.PaymentRecord, verr *VerifyError) *Result {
	if stored == nil {
		if verr == nil {
			verr = reject(ReasonTransactionNotFound, errors.New("record vanished after upsert"))
		}
		return v.rejected(signature, verr)
	}
	switch stored.Status {
	case models.StatusConfirmed:
		v.log.Info("支付已确认: %s amount=%d", signature, stored.Amount)
		return &Result{Accepted: true, Signature: signature, Record: stored}
	case models.StatusFailed:
		if verr == nil {
			verr = reject(ReasonPreviouslyFailed, errors.New(stored.FailReason))
		}
	default:
		if verr == nil {
			verr = reject(ReasonConfirmationFailed, fmt.Errorf("record still %s", stored.Status))
		}
	}
	res := v.rejected(signature, verr)
	res.Record = stored
	return res
}

func (v *Verifier) rejected(signature string, verr *VerifyError) *Result {
	v.log.Warn("支付验证失败 sig=%s: %v", signature, verr)
	return &Result{Signature: signature, Failure: verr}
}
