package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Josh0007-sunday/chainproofserver/utils"
)

var ErrMarketUnavailable = errors.New("market data unavailable")

// MarketData is what the external price and metadata APIs know about a mint.
// Nil numeric fields were not reported.
type MarketData struct {
	Price       *decimal.Decimal
	Volume24h   *decimal.Decimal
	MarketCap   *decimal.Decimal
	Liquidity   *decimal.Decimal
	Name        string
	Symbol      string
	Description string
	Categories  []string
}

type MarketSource interface {
	// MarketData returns whatever could be fetched. The error is non-nil when some
	// source failed; the returned data may still be partially filled.
	MarketData(ctx context.Context, mint string) (*MarketData, error)
}

// HTTPMarketSource combines Jupiter prices with CoinGecko metadata.
type HTTPMarketSource struct {
	client       *http.Client
	jupiterURL   string
	coingeckoURL string
	coingeckoKey string
	log          *utils.Logger
}

func NewHTTPMarketSource(jupiterURL, coingeckoURL, coingeckoKey string, timeout time.Duration, log *utils.Logger) *HTTPMarketSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMarketSource{
		client:       &http.Client{Timeout: timeout},
		jupiterURL:   strings.TrimRight(jupiterURL, "/"),
		coingeckoURL: strings.TrimRight(coingeckoURL, "/"),
		coingeckoKey: coingeckoKey,
		log:          log.With("market"),
	}
}

type jupiterPrice struct {
	USDPrice  *decimal.Decimal `json:"usdPrice"`
	Liquidity *decimal.Decimal `json:"liquidity"`
}

type usdValue struct {
	USD *decimal.Decimal `json:"usd"`
}

type coingeckoCoin struct {
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Categories  []string `json:"categories"`
	Description struct {
		EN string `json:"en"`
	} `json:"description"`
	MarketData struct {
		CurrentPrice usdValue `json:"current_price"`
		TotalVolume  usdValue `json:"total_volume"`
		MarketCap    usdValue `json:"market_cap"`
	} `json:"market_data"`
}

func (s *HTTPMarketSource) MarketData(ctx context.Context, mint string) (*MarketData, error) {
	md := &MarketData{}
	var errs []error

	if s.jupiterURL != "" {
		var prices map[string]*jupiterPrice
		if err := s.getJSON(ctx, s.jupiterURL+"?ids="+url.QueryEscape(mint), nil, &prices); err != nil {
			errs = append(errs, fmt.Errorf("jupiter: %w", err))
		} else if p := prices[mint]; p != nil {
			md.Price = p.USDPrice
			md.Liquidity = p.Liquidity
		}
	}

	if s.coingeckoURL != "" {
		var headers map[string]string
		if s.coingeckoKey != "" {
			headers = map[string]string{"x-cg-demo-api-key": s.coingeckoKey}
		}
		var coin coingeckoCoin
		if err := s.getJSON(ctx, s.coingeckoURL+"/coins/solana/contract/"+url.PathEscape(mint), headers, &coin); err != nil {
			errs = append(errs, fmt.Errorf("coingecko: %w", err))
		} else {
			md.Name = coin.Name
			md.Symbol = coin.Symbol
			md.Description = coin.Description.EN
			md.Categories = coin.Categories
			if md.Price == nil {
				md.Price = coin.MarketData.CurrentPrice.USD
			}
			md.Volume24h = coin.MarketData.TotalVolume.USD
			md.MarketCap = coin.MarketData.MarketCap.USD
		}
	}

	if len(errs) > 0 {
		s.log.Warn("获取市场数据失败 %s: %v", mint, errors.Join(errs...))
		return md, fmt.Errorf("%w: %v", ErrMarketUnavailable, errors.Join(errs...))
	}
	return md, nil
}

func (s *HTTPMarketSource) getJSON(ctx context.Context, u string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
