package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"unicode"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/Josh0007-sunday/chainproofserver/internal/metrics"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

var ErrInvalidMint = errors.New("invalid mint address")

// MintReader is the chain access the scorer needs. *rpc.Client satisfies it.
type MintReader interface {
	AccountFetcher
	GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error)
}

type RiskFactor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

type RiskReport struct {
	Mint    string       `json:"mint"`
	Score   int          `json:"score"`
	Level   string       `json:"level"`
	Factors []RiskFactor `json:"factors"`
}

type Classification struct {
	Mint         string   `json:"mint"`
	Kind         string   `json:"kind"` // meme | utility | unknown
	MemeScore    int      `json:"memeScore"`
	UtilityScore int      `json:"utilityScore"`
	Signals      []string `json:"signals"`
}

// mintFacts is the on-chain view of a mint shared by both scores.
type mintFacts struct {
	mint             *token.Mint
	normalizedSupply decimal.Decimal
	top10Share       *decimal.Decimal // nil when holder data is unavailable
}

// RegistryLookup reports the program's registration and staking state of a mint.
type RegistryLookup interface {
	Lookup(ctx context.Context, mint string) (*RegistryStatus, error)
}

// Scorer computes heuristic risk and meme/utility scores for a mint.
type Scorer struct {
	chain    MintReader
	market   MarketSource
	registry RegistryLookup
	metrics  *metrics.Collector
	log      *utils.Logger
}

func NewScorer(chain MintReader, market MarketSource, m *metrics.Collector, log *utils.Logger) *Scorer {
	return &Scorer{chain: chain, market: market, metrics: m, log: log.With("scoring")}
}

// WithRegistry makes both scores take the on-chain registry into account.
func (s *Scorer) WithRegistry(r RegistryLookup) *Scorer {
	s.registry = r
	return s
}

// registryStatus is nil when no registry is configured or it cannot be read.
func (s *Scorer) registryStatus(ctx context.Context, mint solana.PublicKey) *RegistryStatus {
	if s.registry == nil {
		return nil
	}
	st, err := s.registry.Lookup(ctx, mint.String())
	if err != nil {
		s.log.Warn("读取注册信息失败 %s: %v", mint, err)
		return nil
	}
	return st
}

var (
	tenThousand    = decimal.NewFromInt(10_000)
	oneBillion     = decimal.NewFromInt(1_000_000_000)
	hundredBillion = decimal.NewFromInt(100_000_000_000)
	pct80          = decimal.RequireFromString("0.8")
	pct50          = decimal.RequireFromString("0.5")
)

func (s *Scorer) facts(ctx context.Context, mintStr string) (solana.PublicKey, *mintFacts, error) {
	mintKey, err := solana.PublicKeyFromBase58(strings.TrimSpace(mintStr))
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: %v", ErrInvalidMint, err)
	}
	res, err := s.chain.GetAccountInfo(ctx, mintKey)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Value == nil)) {
		return mintKey, nil, fmt.Errorf("%w: %s", ErrAccountNotFound, mintKey)
	}
	if err != nil {
		return mintKey, nil, fmt.Errorf("get mint account: %w", err)
	}
	var mint token.Mint
	if err := mint.UnmarshalWithDecoder(bin.NewBinDecoder(res.Value.Data.GetBinary())); err != nil {
		return mintKey, nil, fmt.Errorf("%w: not a token mint: %v", ErrInvalidMint, err)
	}

	f := &mintFacts{
		mint:             &mint,
		normalizedSupply: decimal.NewFromBigInt(uint64Big(mint.Supply), -int32(mint.Decimals)),
	}

	largest, err := s.chain.GetTokenLargestAccounts(ctx, mintKey, rpc.CommitmentConfirmed)
	if err != nil {
		s.log.Warn("获取持仓分布失败 %s: %v", mintKey, err)
		return mintKey, f, nil
	}
	if mint.Supply > 0 && largest != nil {
		accounts := largest.Value
		sort.Slice(accounts, func(i, j int) bool {
			a, _ := decimal.NewFromString(accounts[i].Amount)
			b, _ := decimal.NewFromString(accounts[j].Amount)
			return a.GreaterThan(b)
		})
		sum := decimal.Zero
		for i, a := range accounts {
			if i == 10 {
				break
			}
			if amt, err := decimal.NewFromString(a.Amount); err == nil {
				sum = sum.Add(amt)
			}
		}
		share := sum.Div(decimal.NewFromBigInt(uint64Big(mint.Supply), 0))
		f.top10Share = &share
	}
	return mintKey, f, nil
}

func uint64Big(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// RiskScore is a 0..100 weighted sum; higher is riskier.
func (s *Scorer) RiskScore(ctx context.Context, mintStr string) (report *RiskReport, err error) {
	defer func() { s.metrics.ObserveScoring("risk", err) }()

	mintKey, f, err := s.facts(ctx, mintStr)
	if err != nil {
		return nil, err
	}
	md, mdErr := s.market.MarketData(ctx, mintKey.String())
	if md == nil {
		md = &MarketData{}
	}
	return riskReport(mintKey.String(), f, md, mdErr, s.registryStatus(ctx, mintKey)), nil
}

func riskReport(mint string, f *mintFacts, md *MarketData, mdErr error, reg *RegistryStatus) *RiskReport {
	r := &RiskReport{Mint: mint, Factors: []RiskFactor{}}
	add := func(name string, points int, detail string) {
		r.Factors = append(r.Factors, RiskFactor{Name: name, Points: points, Detail: detail})
		r.Score += points
	}

	if f.mint.MintAuthority != nil {
		add("mint_authority", 25, f.mint.MintAuthority.String())
	}
	if f.mint.FreezeAuthority != nil {
		add("freeze_authority", 20, f.mint.FreezeAuthority.String())
	}
	switch {
	case f.top10Share == nil:
		add("holder_data_unavailable", 0, "")
	case f.top10Share.GreaterThan(pct80):
		add("top10_concentration", 25, f.top10Share.StringFixed(4))
	case f.top10Share.GreaterThan(pct50):
		add("top10_concentration", 15, f.top10Share.StringFixed(4))
	}
	if f.normalizedSupply.GreaterThan(oneBillion) {
		add("large_supply", 10, f.normalizedSupply.String())
	}
	if f.mint.Decimals > 9 {
		add("high_decimals", 5, fmt.Sprint(f.mint.Decimals))
	}

	if md.Price == nil || md.Price.IsZero() {
		detail := ""
		if mdErr != nil {
			detail = mdErr.Error()
		}
		add("no_price", 10, detail)
	}
	if md.Volume24h != nil && md.Volume24h.LessThan(tenThousand) {
		add("low_volume", 5, md.Volume24h.StringFixed(2))
	}
	if md.Liquidity == nil && md.MarketCap == nil {
		add("no_liquidity_or_market_cap", 5, "")
	}

	if reg != nil {
		switch {
		case !reg.Registered:
			add("unregistered", 5, "")
		case reg.Verified:
			add("community_verified", -15, fmt.Sprintf("%d stakes", reg.TotalStakes))
		default:
			add("registered", -5, reg.Name)
		}
	}

	if r.Score > 100 {
		r.Score = 100
	}
	if r.Score < 0 {
		r.Score = 0
	}
	switch {
	case r.Score >= 60:
		r.Level = "high"
	case r.Score >= 30:
		r.Level = "medium"
	default:
		r.Level = "low"
	}
	return r
}

var (
	memeWords = map[string]int{
		"meme": 15, "memecoin": 15, "dog": 10, "doge": 15, "inu": 15, "shib": 15, "cat": 10,
		"pepe": 15, "bonk": 15, "wif": 10, "frog": 10, "moon": 10, "elon": 10, "pump": 10, "fun": 5,
	}
	utilityWords = map[string]int{
		"defi": 15, "protocol": 10, "governance": 10, "oracle": 15, "infrastructure": 10,
		"exchange": 10, "lending": 10, "staking": 10, "bridge": 10, "payments": 10,
		"storage": 10, "dao": 5, "liquidity": 5, "network": 5, "ai": 5,
	}
	memeCategories    = []string{"meme"}
	utilityCategories = []string{
		"decentralized finance", "defi", "infrastructure", "governance", "oracle", "exchange",
		"lending", "layer 1", "layer 2", "artificial intelligence", "depin", "payment",
	}
)

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Classify labels a mint as meme, utility or unknown.
func (s *Scorer) Classify(ctx context.Context, mintStr string) (c *Classification, err error) {
	defer func() { s.metrics.ObserveScoring("classification", err) }()

	mintKey, f, err := s.facts(ctx, mintStr)
	if err != nil {
		return nil, err
	}
	md, _ := s.market.MarketData(ctx, mintKey.String())
	if md == nil {
		md = &MarketData{}
	}
	return classify(mintKey.String(), f, md, s.registryStatus(ctx, mintKey)), nil
}

func classify(mint string, f *mintFacts, md *MarketData, reg *RegistryStatus) *Classification {
	c := &Classification{Mint: mint, Signals: []string{}}
	meme := func(points int, signal string) {
		c.MemeScore += points
		c.Signals = append(c.Signals, fmt.Sprintf("meme+%d %s", points, signal))
	}
	utility := func(points int, signal string) {
		c.UtilityScore += points
		c.Signals = append(c.Signals, fmt.Sprintf("utility+%d %s", points, signal))
	}

	for _, cat := range md.Categories {
		lc := strings.ToLower(cat)
		for _, m := range memeCategories {
			if strings.Contains(lc, m) {
				meme(40, "category:"+cat)
				break
			}
		}
		for _, u := range utilityCategories {
			if strings.Contains(lc, u) {
				utility(30, "category:"+cat)
				break
			}
		}
	}

	seen := map[string]bool{}
	for _, w := range append(words(md.Name), words(md.Symbol)...) {
		if seen[w] {
			continue
		}
		seen[w] = true
		if p, ok := memeWords[w]; ok {
			meme(p, "name:"+w)
		}
		if p, ok := utilityWords[w]; ok {
			utility(p, "name:"+w)
		}
	}
	descMeme, descUtility := 0, 0
	for _, w := range words(md.Description) {
		if seen["desc:"+w] {
			continue
		}
		seen["desc:"+w] = true
		if _, ok := memeWords[w]; ok && descMeme < 20 {
			descMeme += 5
		}
		if _, ok := utilityWords[w]; ok && descUtility < 20 {
			descUtility += 5
		}
	}
	if descMeme > 0 {
		meme(descMeme, "description")
	}
	if descUtility > 0 {
		utility(descUtility, "description")
	}

	if f.normalizedSupply.GreaterThan(hundredBillion) {
		meme(10, "supply>1e11")
	}
	if f.mint.MintAuthority == nil && f.mint.FreezeAuthority == nil {
		meme(5, "authorities_renounced")
	} else if f.mint.MintAuthority != nil {
		utility(5, "managed_supply")
	}
	if reg != nil && reg.Registered {
		utility(10, "registered")
		if reg.Verified {
			utility(10, "community_verified")
		}
	}

	if c.MemeScore > 100 {
		c.MemeScore = 100
	}
	if c.UtilityScore > 100 {
		c.UtilityScore = 100
	}
	switch {
	case c.MemeScore >= 20 && c.MemeScore-c.UtilityScore >= 15:
		c.Kind = "meme"
	case c.UtilityScore >= 20 && c.UtilityScore-c.MemeScore >= 15:
		c.Kind = "utility"
	default:
		c.Kind = "unknown"
	}
	return c
}
