package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// VerificationThreshold is the stake count at which the program marks a project verified.
const VerificationThreshold = 10

func accountDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("account:" + name))
	return h[:8]
}

var (
	tokenEntryDiscriminator    = accountDiscriminator("TokenEntry")
	projectStakesDiscriminator = accountDiscriminator("ProjectStakes")
)

// TokenEntryState mirrors the on-chain TokenEntry account.
type TokenEntryState struct {
	Authority solana.PublicKey
	Mint      solana.PublicKey
	Name      string
	Symbol    string
	IPFSHash  string
	Timestamp int64
	Bump      uint8
}

// ProjectStakesState mirrors the on-chain ProjectStakes account.
type ProjectStakesState struct {
	ProjectMint solana.PublicKey
	TotalStakes uint64
	IsVerified  bool
	Bump        uint8
}

func decodeAnchor(data, disc []byte, what string, v interface{}) error {
	if len(data) < 8 || !bytes.Equal(data[:8], disc) {
		return fmt.Errorf("%w: %s", ErrBadDiscriminator, what)
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

func DecodeTokenEntry(data []byte) (*TokenEntryState, error) {
	var st TokenEntryState
	if err := decodeAnchor(data, tokenEntryDiscriminator, "token entry", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func DecodeProjectStakes(data []byte) (*ProjectStakesState, error) {
	var st ProjectStakesState
	if err := decodeAnchor(data, projectStakesDiscriminator, "project stakes", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RegistryStatus is what the program knows about a mint. A mint with no
// TokenEntry account reads as unregistered, not as an error.
type RegistryStatus struct {
	Mint           string     `json:"mint"`
	Registered     bool       `json:"registered"`
	Authority      string     `json:"authority,omitempty"`
	Name           string     `json:"name,omitempty"`
	Symbol         string     `json:"symbol,omitempty"`
	IPFSHash       string     `json:"ipfsHash,omitempty"`
	RegisteredAt   *time.Time `json:"registeredAt,omitempty"`
	TotalStakes    uint64     `json:"totalStakes"`
	Verified       bool       `json:"verified"`
	StakesToVerify uint64     `json:"stakesToVerify"`
}

// Registry reads token_entry and project_stakes PDAs of the program.
type Registry struct {
	program  solana.PublicKey
	accounts AccountFetcher
}

func NewRegistry(program solana.PublicKey, accounts AccountFetcher) *Registry {
	return &Registry{program: program, accounts: accounts}
}

func (r *Registry) TokenEntryAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("token_entry"), mint.Bytes()}, r.program)
	return addr, err
}

func (r *Registry) ProjectStakesAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("project_stakes"), mint.Bytes()}, r.program)
	return addr, err
}

func (r *Registry) Lookup(ctx context.Context, mintStr string) (*RegistryStatus, error) {
	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(mintStr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMint, err)
	}
	out := &RegistryStatus{Mint: mint.String(), StakesToVerify: VerificationThreshold}

	entryAddr, err := r.TokenEntryAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("derive token entry address: %w", err)
	}
	data, err := fetchAccount(ctx, r.accounts, entryAddr)
	switch {
	case errors.Is(err, ErrAccountNotFound):
	case err != nil:
		return nil, err
	default:
		entry, err := DecodeTokenEntry(data)
		if err != nil {
			return nil, err
		}
		at := time.Unix(entry.Timestamp, 0).UTC()
		out.Registered = true
		out.Authority = entry.Authority.String()
		out.Name = entry.Name
		out.Symbol = entry.Symbol
		out.IPFSHash = entry.IPFSHash
		out.RegisteredAt = &at
	}

	stakesAddr, err := r.ProjectStakesAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("derive project stakes address: %w", err)
	}
	data, err = fetchAccount(ctx, r.accounts, stakesAddr)
	switch {
	case errors.Is(err, ErrAccountNotFound):
	case err != nil:
		return nil, err
	default:
		stakes, err := DecodeProjectStakes(data)
		if err != nil {
			return nil, err
		}
		out.TotalStakes = stakes.TotalStakes
		out.Verified = stakes.IsVerified
		if stakes.TotalStakes >= VerificationThreshold {
			out.StakesToVerify = 0
		} else {
			out.StakesToVerify = VerificationThreshold - stakes.TotalStakes
		}
	}
	return out, nil
}
