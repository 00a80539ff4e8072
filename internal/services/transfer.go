package services

import (
	"encoding/binary"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// SPL token instruction discriminators.
const (
	tokenInstructionTransfer        byte = 3
	tokenInstructionTransferChecked byte = 12
)

var (
	errNoTransfer       = errors.New("no token transfer instruction")
	errMultipleTransfer = errors.New("more than one token transfer instruction")
	errMintMismatch     = errors.New("transfer mint does not match")
)

// TransferInstruction is the statically decoded token transfer of a transaction.
// Account fields are zero when they resolve through an address lookup table.
type TransferInstruction struct {
	Amount      uint64
	Source      solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey
	Mint        solana.PublicKey // only set for TransferChecked
	Decimals    uint8
	Checked     bool
}

// findTransfer locates exactly one Transfer or TransferChecked instruction addressed
// to tokenProgram. For TransferChecked the mint must equal mint.
func findTransfer(tx *solana.Transaction, tokenProgram, mint solana.PublicKey) (*TransferInstruction, error) {
	keys := tx.Message.AccountKeys
	key := func(idx uint16) solana.PublicKey {
		if int(idx) < len(keys) {
			return keys[idx]
		}
		return solana.PublicKey{}
	}

	var found *TransferInstruction
	for _, inst := range tx.Message.Instructions {
		if !key(inst.ProgramIDIndex).Equals(tokenProgram) {
			continue
		}
		ti, ok := decodeTransfer(inst.Data, inst.Accounts, key)
		if !ok {
			continue
		}
		if found != nil {
			return nil, errMultipleTransfer
		}
		found = ti
	}
	if found == nil {
		return nil, errNoTransfer
	}
	if found.Checked && !found.Mint.IsZero() && !found.Mint.Equals(mint) {
		return nil, errMintMismatch
	}
	return found, nil
}

func decodeTransfer(data []byte, accounts []uint16, key func(uint16) solana.PublicKey) (*TransferInstruction, bool) {
	if len(data) < 9 {
		return nil, false
	}
	amount := binary.LittleEndian.Uint64(data[1:9])
	switch data[0] {
	case tokenInstructionTransfer:
		// source, destination, authority
		if len(accounts) < 3 {
			return nil, false
		}
		return &TransferInstruction{
			Amount:      amount,
			Source:      key(accounts[0]),
			Destination: key(accounts[1]),
			Authority:   key(accounts[2]),
		}, true
	case tokenInstructionTransferChecked:
		// source, mint, destination, authority; data carries decimals after the amount
		if len(accounts) < 4 || len(data) < 10 {
			return nil, false
		}
		return &TransferInstruction{
			Amount:      amount,
			Source:      key(accounts[0]),
			Mint:        key(accounts[1]),
			Destination: key(accounts[2]),
			Authority:   key(accounts[3]),
			Decimals:    data[9],
			Checked:     true,
		}, true
	}
	return nil, false
}

// BalanceTransfer is a transfer reconstructed from token balance deltas.
type BalanceTransfer struct {
	Account  solana.PublicKey
	Owner    solana.PublicKey
	Mint     solana.PublicKey
	Amount   uint64
	Decimals uint8
}

type balanceKey struct {
	index int
	mint  solana.PublicKey
}

// balanceDeltas diffs pre and post balances per account index. A missing pre
// balance counts as zero. It returns increases and decreases separately.
func balanceDeltas(ftx *FinalizedTx) (in, out []BalanceTransfer) {
	pre := make(map[balanceKey]TokenBalance, len(ftx.PreTokenBalances))
	for _, b := range ftx.PreTokenBalances {
		pre[balanceKey{b.AccountIndex, b.Mint}] = b
	}
	seen := make(map[balanceKey]bool, len(ftx.PostTokenBalances))
	for _, post := range ftx.PostTokenBalances {
		k := balanceKey{post.AccountIndex, post.Mint}
		seen[k] = true
		before := pre[k].Amount
		bt := BalanceTransfer{Account: post.Account, Owner: post.Owner, Mint: post.Mint, Decimals: post.Decimals}
		switch {
		case post.Amount > before:
			bt.Amount = post.Amount - before
			in = append(in, bt)
		case post.Amount < before:
			bt.Amount = before - post.Amount
			out = append(out, bt)
		}
	}
	// accounts closed during the transaction only appear in pre
	for k, b := range pre {
		if !seen[k] && b.Amount > 0 {
			out = append(out, BalanceTransfer{Account: b.Account, Owner: b.Owner, Mint: b.Mint, Amount: b.Amount, Decimals: b.Decimals})
		}
	}
	return in, out
}

// matchTransfer picks the increase of mint received by recipient, where recipient
// is either the token account itself or its owner. The sender is the owner of the
// largest decrease of the same mint.
func matchTransfer(ftx *FinalizedTx, mint, recipient solana.PublicKey) (received *BalanceTransfer, sender solana.PublicKey) {
	in, out := balanceDeltas(ftx)
	for i := range in {
		t := in[i]
		if !t.Mint.Equals(mint) {
			continue
		}
		if t.Account.Equals(recipient) || t.Owner.Equals(recipient) {
			received = &t
			break
		}
	}
	var largest uint64
	for _, t := range out {
		if t.Mint.Equals(mint) && t.Amount > largest {
			largest = t.Amount
			sender = t.Owner
			if sender.IsZero() {
				sender = t.Account
			}
		}
	}
	return received, sender
}
