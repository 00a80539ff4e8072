package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrEmptyTx    = errors.New("empty transaction")
	ErrTxEncoding = errors.New("transaction is not valid base64")
	ErrTxDecode   = errors.New("transaction could not be decoded")
	ErrTxUnsigned = errors.New("transaction carries no signature")
	ErrTxTrailing = errors.New("transaction has trailing bytes")
)

// DecodeBase64Tx decodes a base64 wire transaction. The first signature must be present and non-zero,
// since it is the identifier the rest of the pipeline keys on.
func DecodeBase64Tx(b64 string) (*solana.Transaction, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, ErrEmptyTx
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxEncoding, err)
	}
	dec := bin.NewBinDecoder(data)
	tx, err := solana.TransactionFromDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxDecode, err)
	}
	if dec.Remaining() > 0 {
		return nil, ErrTxTrailing
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		return nil, ErrTxUnsigned
	}
	return tx, nil
}

func EncodeBase64Tx(tx *solana.Transaction) (string, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}
