package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/require"

	"github.com/Josh0007-sunday/chainproofserver/internal/db"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

var testLogger = utils.NewLogger(utils.LevelError)

// mockChain is a Chain whose behaviour is set per test.
type mockChain struct {
	SimulateFunc  func(ctx context.Context, tx *solana.Transaction) error
	SubmitFunc    func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmFunc   func(ctx context.Context, sig solana.Signature) error
	FinalizedFunc func(ctx context.Context, sig solana.Signature) (*FinalizedTx, error)

	simulates int32
	submits   int32
}

func (m *mockChain) Simulate(ctx context.Context, tx *solana.Transaction) error {
	atomic.AddInt32(&m.simulates, 1)
	if m.SimulateFunc != nil {
		return m.SimulateFunc(ctx, tx)
	}
	return nil
}

func (m *mockChain) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	atomic.AddInt32(&m.submits, 1)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, tx)
	}
	return tx.Signatures[0], nil
}

func (m *mockChain) Confirm(ctx context.Context, sig solana.Signature) error {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, sig)
	}
	return nil
}

func (m *mockChain) FinalizedTransaction(ctx context.Context, sig solana.Signature) (*FinalizedTx, error) {
	if m.FinalizedFunc != nil {
		return m.FinalizedFunc(ctx, sig)
	}
	return nil, nil
}

func (m *mockChain) submitCount() int { return int(atomic.LoadInt32(&m.submits)) }

// paymentFixture is a payer sending mint tokens from its token account to the
// recipient's token account.
type paymentFixture struct {
	payer          solana.PrivateKey
	mint           solana.PublicKey
	recipient      solana.PublicKey
	sourceAccount  solana.PublicKey
	destAccount    solana.PublicKey
	payerBalance   uint64
	blockhash      solana.Hash
	blockTimestamp time.Time
}

func newFixture(t *testing.T) *paymentFixture {
	t.Helper()
	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &paymentFixture{
		payer:          payer,
		mint:           solana.NewWallet().PublicKey(),
		recipient:      solana.NewWallet().PublicKey(),
		sourceAccount:  solana.NewWallet().PublicKey(),
		destAccount:    solana.NewWallet().PublicKey(),
		payerBalance:   10_000_000,
		blockhash:      solana.Hash(solana.NewWallet().PublicKey()),
		blockTimestamp: time.Unix(1735000000, 0).UTC(),
	}
}

func (f *paymentFixture) sign(t *testing.T, insts ...solana.Instruction) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(insts, f.blockhash, solana.TransactionPayer(f.payer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(f.payer.PublicKey()) {
			return &f.payer
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func tokenTransfer(f *paymentFixture, amount uint64) solana.Instruction {
	return token.NewTransferInstruction(amount, f.sourceAccount, f.destAccount, f.payer.PublicKey(), nil).Build()
}

func (f *paymentFixture) transferTx(t *testing.T, amount uint64) *solana.Transaction {
	return f.sign(t, tokenTransfer(f, amount))
}

func (f *paymentFixture) transferCheckedTx(t *testing.T, amount uint64, mint solana.PublicKey) *solana.Transaction {
	return f.sign(t, token.NewTransferCheckedInstruction(amount, 6, f.sourceAccount, mint, f.destAccount, f.payer.PublicKey(), nil).Build())
}

func (f *paymentFixture) systemTransferTx(t *testing.T) *solana.Transaction {
	return f.sign(t, system.NewTransferInstruction(5000, f.payer.PublicKey(), f.recipient).Build())
}

func encode(t *testing.T, tx *solana.Transaction) string {
	t.Helper()
	s, err := utils.EncodeBase64Tx(tx)
	require.NoError(t, err)
	return s
}

// landed returns the finalized view of a transfer of delta tokens to owner.
func (f *paymentFixture) landed(delta uint64, owner solana.PublicKey) *FinalizedTx {
	bt := f.blockTimestamp
	keys := []solana.PublicKey{f.payer.PublicKey(), f.sourceAccount, f.destAccount, solana.TokenProgramID}
	return &FinalizedTx{
		Slot:        321_000,
		BlockTime:   &bt,
		AccountKeys: keys,
		PreTokenBalances: []TokenBalance{
			{AccountIndex: 1, Account: f.sourceAccount, Owner: f.payer.PublicKey(), Mint: f.mint, Amount: f.payerBalance, Decimals: 6},
		},
		PostTokenBalances: []TokenBalance{
			{AccountIndex: 1, Account: f.sourceAccount, Owner: f.payer.PublicKey(), Mint: f.mint, Amount: f.payerBalance - delta, Decimals: 6},
			{AccountIndex: 2, Account: f.destAccount, Owner: owner, Mint: f.mint, Amount: delta, Decimals: 6},
		},
	}
}

func newTestStore(t *testing.T) *db.GormStore {
	t.Helper()
	conn, err := db.Open(db.Options{Driver: "sqlite", DSN: ":memory:"}, testLogger)
	require.NoError(t, err)
	return db.NewGormStore(conn)
}
