package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeAnchor(t *testing.T, disc []byte, v interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(disc)
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(v))
	return buf.Bytes()
}

func TestDecodeTokenEntry(t *testing.T) {
	want := TokenEntryState{
		Authority: solana.NewWallet().PublicKey(),
		Mint:      solana.NewWallet().PublicKey(),
		Name:      "Chain Proof",
		Symbol:    "PROOF",
		IPFSHash:  "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		Timestamp: 1_700_000_000,
		Bump:      253,
	}
	data := encodeAnchor(t, tokenEntryDiscriminator, want)
	assert.Len(t, data, 8+32+32+(4+11)+(4+5)+(4+46)+8+1)

	got, err := DecodeTokenEntry(data)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = DecodeTokenEntry(encodeAnchor(t, rewardPoolDiscriminator, want))
	assert.ErrorIs(t, err, ErrBadDiscriminator)

	_, err = DecodeTokenEntry(data[:50])
	assert.Error(t, err)
}

func TestDecodeProjectStakes(t *testing.T) {
	want := ProjectStakesState{ProjectMint: solana.NewWallet().PublicKey(), TotalStakes: 11, IsVerified: true, Bump: 255}
	data := encodeAnchor(t, projectStakesDiscriminator, want)
	assert.Len(t, data, 8+32+8+1+1)

	got, err := DecodeProjectStakes(data)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = DecodeProjectStakes(data[:4])
	assert.ErrorIs(t, err, ErrBadDiscriminator)
}

func TestRegistryLookup(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	fetcher := &mockAccounts{data: map[solana.PublicKey][]byte{}}
	reg := NewRegistry(program, fetcher)

	entryAddr, err := reg.TokenEntryAddress(mint)
	require.NoError(t, err)
	expected, _, err := solana.FindProgramAddress([][]byte{[]byte("token_entry"), mint.Bytes()}, program)
	require.NoError(t, err)
	assert.Equal(t, expected, entryAddr)
	stakesAddr, err := reg.ProjectStakesAddress(mint)
	require.NoError(t, err)

	t.Run("unknown mint reads as unregistered", func(t *testing.T) {
		st, err := reg.Lookup(context.Background(), mint.String())
		require.NoError(t, err)
		assert.False(t, st.Registered)
		assert.False(t, st.Verified)
		assert.Nil(t, st.RegisteredAt)
		assert.Equal(t, uint64(VerificationThreshold), st.StakesToVerify)
	})

	t.Run("registered with stakes below threshold", func(t *testing.T) {
		auth := solana.NewWallet().PublicKey()
		fetcher.data[entryAddr] = encodeAnchor(t, tokenEntryDiscriminator, TokenEntryState{
			Authority: auth, Mint: mint, Name: "Chain Proof", Symbol: "PROOF", IPFSHash: "Qm1", Timestamp: 1_700_000_000,
		})
		fetcher.data[stakesAddr] = encodeAnchor(t, projectStakesDiscriminator, ProjectStakesState{ProjectMint: mint, TotalStakes: 4})

		st, err := reg.Lookup(context.Background(), " "+mint.String()+" ")
		require.NoError(t, err)
		assert.True(t, st.Registered)
		assert.Equal(t, auth.String(), st.Authority)
		assert.Equal(t, "PROOF", st.Symbol)
		require.NotNil(t, st.RegisteredAt)
		assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), *st.RegisteredAt)
		assert.Equal(t, uint64(4), st.TotalStakes)
		assert.False(t, st.Verified)
		assert.Equal(t, uint64(6), st.StakesToVerify)
	})

	t.Run("verified project", func(t *testing.T) {
		fetcher.data[stakesAddr] = encodeAnchor(t, projectStakesDiscriminator, ProjectStakesState{ProjectMint: mint, TotalStakes: 12, IsVerified: true})

		st, err := reg.Lookup(context.Background(), mint.String())
		require.NoError(t, err)
		assert.True(t, st.Verified)
		assert.Equal(t, uint64(0), st.StakesToVerify)
	})

	t.Run("corrupt account surfaces", func(t *testing.T) {
		fetcher.data[stakesAddr] = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
		_, err := reg.Lookup(context.Background(), mint.String())
		assert.ErrorIs(t, err, ErrBadDiscriminator)
	})

	t.Run("invalid mint", func(t *testing.T) {
		_, err := reg.Lookup(context.Background(), "not-a-key")
		assert.ErrorIs(t, err, ErrInvalidMint)
	})
}

type failingAccounts struct{}

func (failingAccounts) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return nil, errors.New("rpc down")
}

func TestRegistryLookupRPCError(t *testing.T) {
	reg := NewRegistry(solana.NewWallet().PublicKey(), failingAccounts{})
	_, err := reg.Lookup(context.Background(), solana.NewWallet().PublicKey().String())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}
