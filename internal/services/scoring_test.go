package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMintReader struct {
	mockAccounts
	LargestFunc func(ctx context.Context, mint solana.PublicKey) (*rpc.GetTokenLargestAccountsResult, error)
}

func (m *mockMintReader) GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error) {
	if m.LargestFunc == nil {
		return nil, errors.New("not available")
	}
	return m.LargestFunc(ctx, mint)
}

type mockMarket struct {
	data *MarketData
	err  error
}

func (m mockMarket) MarketData(ctx context.Context, mint string) (*MarketData, error) {
	return m.data, m.err
}

func encodeMint(t *testing.T, m token.Mint) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, m.MarshalWithEncoder(bin.NewBinEncoder(&buf)))
	return buf.Bytes()
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func largestOf(amounts ...string) func(context.Context, solana.PublicKey) (*rpc.GetTokenLargestAccountsResult, error) {
	return func(context.Context, solana.PublicKey) (*rpc.GetTokenLargestAccountsResult, error) {
		res := &rpc.GetTokenLargestAccountsResult{}
		for _, a := range amounts {
			res.Value = append(res.Value, &rpc.TokenLargestAccountsResult{Address: solana.NewWallet().PublicKey(), UiTokenAmount: rpc.UiTokenAmount{Amount: a}})
		}
		return res, nil
	}
}

func TestRiskScoreRiskyMint(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	auth := solana.NewWallet().PublicKey()
	reader := &mockMintReader{
		mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{
			mint: encodeMint(t, token.Mint{
				MintAuthority:   &auth,
				FreezeAuthority: &auth,
				Supply:          2_000_000_000_000_000_000, // 2e9 tokens at 9 decimals
				Decimals:        9,
				IsInitialized:   true,
			}),
		}},
		LargestFunc: largestOf("1800000000000000000", "100000000000000000"),
	}
	s := NewScorer(reader, mockMarket{data: &MarketData{}, err: ErrMarketUnavailable}, nil, testLogger)

	r, err := s.RiskScore(context.Background(), mint.String())
	require.NoError(t, err)
	// 25 + 20 + 25 + 10 + 10 + 5
	assert.Equal(t, 95, r.Score)
	assert.Equal(t, "high", r.Level)

	names := map[string]int{}
	for _, f := range r.Factors {
		names[f.Name] = f.Points
	}
	assert.Equal(t, 25, names["top10_concentration"])
	assert.Equal(t, 10, names["no_price"])
	assert.NotContains(t, names, "low_volume")
}

func TestRiskScoreSafeMint(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	reader := &mockMintReader{
		mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{
			mint: encodeMint(t, token.Mint{Supply: 1_000_000_000_000, Decimals: 6, IsInitialized: true}),
		}},
		LargestFunc: largestOf("100000000000", "50000000000"),
	}
	market := mockMarket{data: &MarketData{Price: dec("1.0001"), Volume24h: dec("5000000"), MarketCap: dec("1000000")}}
	s := NewScorer(reader, market, nil, testLogger)

	r, err := s.RiskScore(context.Background(), mint.String())
	require.NoError(t, err)
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, "low", r.Level)
}

func TestRiskScoreMidConcentrationAndLowVolume(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	reader := &mockMintReader{
		mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{
			mint: encodeMint(t, token.Mint{Supply: 1000, Decimals: 12, IsInitialized: true}),
		}},
		LargestFunc: largestOf("300", "300"),
	}
	market := mockMarket{data: &MarketData{Price: dec("0.01"), Volume24h: dec("999.5"), Liquidity: dec("100")}}
	s := NewScorer(reader, market, nil, testLogger)

	r, err := s.RiskScore(context.Background(), mint.String())
	require.NoError(t, err)
	// top10 60% (+15), decimals 12 (+5), low volume (+5)
	assert.Equal(t, 25, r.Score)
}

type mockRegistry struct {
	LookupFunc func(ctx context.Context, mint string) (*RegistryStatus, error)
}

func (m *mockRegistry) Lookup(ctx context.Context, mint string) (*RegistryStatus, error) {
	return m.LookupFunc(ctx, mint)
}

func registryReturning(st *RegistryStatus, err error) *mockRegistry {
	return &mockRegistry{LookupFunc: func(context.Context, string) (*RegistryStatus, error) { return st, err }}
}

func TestRiskScoreRegistryFactors(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	reader := &mockMintReader{
		mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{
			mint: encodeMint(t, token.Mint{Supply: 1000, Decimals: 12, IsInitialized: true}),
		}},
		LargestFunc: largestOf("300", "300"),
	}
	market := mockMarket{data: &MarketData{Price: dec("0.01"), Volume24h: dec("999.5"), Liquidity: dec("100")}}

	tests := []struct {
		name   string
		reg    *mockRegistry
		score  int
		factor string
	}{
		{"unregistered", registryReturning(&RegistryStatus{}, nil), 30, "unregistered"},
		{"registered", registryReturning(&RegistryStatus{Registered: true, Name: "Chain Proof", TotalStakes: 3}, nil), 20, "registered"},
		{"verified", registryReturning(&RegistryStatus{Registered: true, Verified: true, TotalStakes: 12}, nil), 10, "community_verified"},
		{"registry unreadable", registryReturning(nil, errors.New("rpc down")), 25, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(reader, market, nil, testLogger).WithRegistry(tt.reg)
			r, err := s.RiskScore(context.Background(), mint.String())
			require.NoError(t, err)
			assert.Equal(t, tt.score, r.Score)
			names := []string{}
			for _, f := range r.Factors {
				names = append(names, f.Name)
			}
			if tt.factor != "" {
				assert.Contains(t, names, tt.factor)
			} else {
				assert.NotContains(t, names, "registered")
				assert.NotContains(t, names, "unregistered")
			}
		})
	}
}

func TestRiskScoreNeverNegative(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	reader := &mockMintReader{
		mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{
			mint: encodeMint(t, token.Mint{Supply: 1_000_000_000_000, Decimals: 6, IsInitialized: true}),
		}},
		LargestFunc: largestOf("100000000000", "50000000000"),
	}
	market := mockMarket{data: &MarketData{Price: dec("1.0001"), Volume24h: dec("5000000"), MarketCap: dec("1000000")}}
	s := NewScorer(reader, market, nil, testLogger).
		WithRegistry(registryReturning(&RegistryStatus{Registered: true, Verified: true, TotalStakes: 40}, nil))

	r, err := s.RiskScore(context.Background(), mint.String())
	require.NoError(t, err)
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, "low", r.Level)
}

func TestClassifyRegistrySignals(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	reader := &mockMintReader{mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{
		mint: encodeMint(t, token.Mint{Supply: 1000, Decimals: 6, IsInitialized: true, MintAuthority: ptrKey(solana.NewWallet().PublicKey())}),
	}}}
	reg := registryReturning(&RegistryStatus{Registered: true, Verified: true, TotalStakes: 10}, nil)
	s := NewScorer(reader, mockMarket{data: &MarketData{Name: "Xyz", Symbol: "XYZ"}}, nil, testLogger).WithRegistry(reg)

	c, err := s.Classify(context.Background(), mint.String())
	require.NoError(t, err)
	assert.Contains(t, c.Signals, "utility+10 registered")
	assert.Contains(t, c.Signals, "utility+10 community_verified")
	// managed supply (+5) plus both registry signals
	assert.Equal(t, 25, c.UtilityScore)
	assert.Equal(t, "utility", c.Kind)
}

func ptrKey(k solana.PublicKey) *solana.PublicKey { return &k }

func TestRiskScoreErrors(t *testing.T) {
	s := NewScorer(&mockMintReader{mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{}}}, mockMarket{}, nil, testLogger)

	_, err := s.RiskScore(context.Background(), "not-a-key")
	assert.ErrorIs(t, err, ErrInvalidMint)

	_, err = s.RiskScore(context.Background(), solana.NewWallet().PublicKey().String())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestClassify(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	reader := &mockMintReader{mockAccounts: mockAccounts{data: map[solana.PublicKey][]byte{
		mint: encodeMint(t, token.Mint{Supply: 900_000_000_000_000_000, Decimals: 5, IsInitialized: true}),
	}}}

	tests := []struct {
		name string
		md   *MarketData
		want string
	}{
		{"meme by category and name", &MarketData{Name: "Bonk Inu", Symbol: "BONKINU", Categories: []string{"Meme", "Solana Meme"}}, "meme"},
		{"utility by category", &MarketData{Name: "Pyth Network", Symbol: "PYTH", Categories: []string{"Oracle", "Infrastructure"}, Description: "A decentralized oracle network"}, "utility"},
		{"no signals", &MarketData{Name: "Xyz", Symbol: "XYZ"}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(reader, mockMarket{data: tt.md}, nil, testLogger)
			c, err := s.Classify(context.Background(), mint.String())
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Kind, "signals: %v", c.Signals)
		})
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	// "education" must not count as "cat"
	assert.NotContains(t, words("Education Protocol"), "cat")
	assert.Equal(t, []string{"dog", "wif", "hat"}, words("dog-wif/hat"))
}

func TestHTTPMarketSource(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price":
			assert.Equal(t, mint, r.URL.Query().Get("ids"))
			fmt.Fprintf(w, `{%q:{"usdPrice":0.00002134,"liquidity":125000.5}}`, mint)
		case "/cg/coins/solana/contract/" + mint:
			gotKey = r.Header.Get("x-cg-demo-api-key")
			fmt.Fprint(w, `{"name":"Dog Coin","symbol":"dog","categories":["Meme"],"description":{"en":"much wow"},
				"market_data":{"current_price":{"usd":0.00002},"total_volume":{"usd":8000},"market_cap":{"usd":null}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPMarketSource(srv.URL+"/price", srv.URL+"/cg", "demo-key", time.Second, testLogger)
	md, err := src.MarketData(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "demo-key", gotKey)
	require.NotNil(t, md.Price)
	assert.True(t, md.Price.Equal(decimal.RequireFromString("0.00002134")))
	assert.True(t, md.Liquidity.Equal(decimal.RequireFromString("125000.5")))
	assert.True(t, md.Volume24h.Equal(decimal.NewFromInt(8000)))
	assert.Nil(t, md.MarketCap)
	assert.Equal(t, []string{"Meme"}, md.Categories)
}

func TestHTTPMarketSourcePartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/price" {
			fmt.Fprint(w, `{}`)
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewHTTPMarketSource(srv.URL+"/price", srv.URL+"/cg", "", time.Second, testLogger)
	md, err := src.MarketData(context.Background(), "mint")
	assert.ErrorIs(t, err, ErrMarketUnavailable)
	require.NotNil(t, md)
	assert.Nil(t, md.Price)
}
