package services

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrBadDiscriminator  = errors.New("account discriminator mismatch")
	ErrRewardPoolUnknown = errors.New("reward pool not configured")
)

const basisPoints = 10000

// rewardPoolDiscriminator is the Anchor account tag: sha256("account:RewardPool")[:8].
var rewardPoolDiscriminator = accountDiscriminator("RewardPool")

// AccountFetcher reads raw account data. *rpc.Client satisfies it.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// RewardPoolState mirrors the on-chain RewardPool account.
type RewardPoolState struct {
	Authority            solana.PublicKey
	TotalDeposited       uint64
	TotalDistributed     uint64
	LastDistribution     int64
	DistributionInterval int64
	DeveloperShareBps    uint16
	UserShareBps         uint16
	Bump                 uint8
}

// NextDistribution is the earliest time distribute_rewards is accepted.
func (s *RewardPoolState) NextDistribution() time.Time {
	return time.Unix(s.LastDistribution+s.DistributionInterval, 0).UTC()
}

func (s *RewardPoolState) DistributionDue(now time.Time) bool {
	return now.Unix() >= s.LastDistribution+s.DistributionInterval
}

// Shares splits balance between developers and users, rounding each share down.
func (s *RewardPoolState) Shares(balance uint64) (developer, user uint64) {
	return bpsOf(balance, s.DeveloperShareBps), bpsOf(balance, s.UserShareBps)
}

func bpsOf(amount uint64, bps uint16) uint64 {
	hi, lo := bits.Mul64(amount, uint64(bps))
	q, _ := bits.Div64(hi, lo, basisPoints)
	return q
}

// DecodeRewardPool parses Anchor account data including its discriminator.
func DecodeRewardPool(data []byte) (*RewardPoolState, error) {
	var st RewardPoolState
	if err := decodeAnchor(data, rewardPoolDiscriminator, "reward pool", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RewardPoolSnapshot is the pool state together with its token balance.
type RewardPoolSnapshot struct {
	Address          string    `json:"address"`
	TokenAccount     string    `json:"tokenAccount"`
	Authority        string    `json:"authority"`
	TotalDeposited   uint64    `json:"totalDeposited"`
	TotalDistributed uint64    `json:"totalDistributed"`
	Balance          uint64    `json:"balance"`
	LastDistribution time.Time `json:"lastDistribution"`
	NextDistribution time.Time `json:"nextDistribution"`
	DistributionDue  bool      `json:"distributionDue"`
	DeveloperShare   uint64    `json:"developerShare"`
	UserShare        uint64    `json:"userShare"`
}

// RewardPool reads the program's reward pool PDA and its token account.
type RewardPool struct {
	program      solana.PublicKey
	address      solana.PublicKey
	bump         uint8
	tokenAccount solana.PublicKey
	accounts     AccountFetcher
	now          func() time.Time
}

func NewRewardPool(program, tokenAccount solana.PublicKey, accounts AccountFetcher) (*RewardPool, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte("reward_pool")}, program)
	if err != nil {
		return nil, fmt.Errorf("derive reward pool address: %w", err)
	}
	return &RewardPool{
		program:      program,
		address:      addr,
		bump:         bump,
		tokenAccount: tokenAccount,
		accounts:     accounts,
		now:          time.Now,
	}, nil
}

func (p *RewardPool) Address() solana.PublicKey      { return p.address }
func (p *RewardPool) TokenAccount() solana.PublicKey { return p.tokenAccount }

func (p *RewardPool) fetch(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	return fetchAccount(ctx, p.accounts, account)
}

func fetchAccount(ctx context.Context, accounts AccountFetcher, account solana.PublicKey) ([]byte, error) {
	res, err := accounts.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	if err != nil {
		return nil, err
	}
	return res.Value.Data.GetBinary(), nil
}

func (p *RewardPool) State(ctx context.Context) (*RewardPoolState, error) {
	data, err := p.fetch(ctx, p.address)
	if err != nil {
		return nil, err
	}
	return DecodeRewardPool(data)
}

func (p *RewardPool) Snapshot(ctx context.Context) (*RewardPoolSnapshot, error) {
	st, err := p.State(ctx)
	if err != nil {
		return nil, err
	}
	data, err := p.fetch(ctx, p.tokenAccount)
	if err != nil {
		return nil, err
	}
	var acc token.Account
	if err := acc.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("decode pool token account: %w", err)
	}
	dev, user := st.Shares(acc.Amount)
	return &RewardPoolSnapshot{
		Address:          p.address.String(),
		TokenAccount:     p.tokenAccount.String(),
		Authority:        st.Authority.String(),
		TotalDeposited:   st.TotalDeposited,
		TotalDistributed: st.TotalDistributed,
		Balance:          acc.Amount,
		LastDistribution: time.Unix(st.LastDistribution, 0).UTC(),
		NextDistribution: st.NextDistribution(),
		DistributionDue:  st.DistributionDue(p.now()),
		DeveloperShare:   dev,
		UserShare:        user,
	}, nil
}
