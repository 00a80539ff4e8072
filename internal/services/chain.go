package services

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrAlreadyProcessed  = errors.New("transaction already processed")
	ErrSubmitFailed      = errors.New("submit failed")
	ErrSimulationFailed  = errors.New("simulation failed")
	ErrTransactionFailed = errors.New("transaction failed on chain")
	ErrConfirmTimeout    = errors.New("confirmation timed out")
)

// Chain is the network the verifier submits to and reads back from.
type Chain interface {
	Simulate(ctx context.Context, tx *solana.Transaction) error
	// Submit returns ErrAlreadyProcessed when the node already has the transaction.
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// Confirm blocks until sig reaches confirmed commitment or fails.
	Confirm(ctx context.Context, sig solana.Signature) error
	// FinalizedTransaction returns nil, nil when the node does not know sig.
	FinalizedTransaction(ctx context.Context, sig solana.Signature) (*FinalizedTx, error)
}

// TokenBalance is one entry of a transaction's pre or post token balances.
type TokenBalance struct {
	AccountIndex int
	Account      solana.PublicKey
	Owner        solana.PublicKey // zero when the node did not report it
	Mint         solana.PublicKey
	Amount       uint64
	Decimals     uint8
}

// FinalizedTx is the part of a landed transaction the verifier reconciles against.
type FinalizedTx struct {
	Slot              uint64
	BlockTime         *time.Time
	Err               interface{}
	AccountKeys       []solana.PublicKey
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}
