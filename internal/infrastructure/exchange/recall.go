package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/competition_agent/internal/domain"
)

const (
	RecallBaseURL = "https://api.sandbox.competitions.recall.network"
	RecallWSURL   = "wss://api.sandbox.competitions.recall.network/ws"
)

// stablecoinAddresses maps specific chain -> canonical USDC address. Trades
// are always quoted against the chain's stablecoin.
var stablecoinAddresses = map[string]string{
	"eth":       "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	"polygon":   "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
	"arbitrum":  "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	"optimism":  "0x7F5c764cBc14f9669B88837ca1490cCa17c31607",
	"base":      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"bsc":       "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	"avalanche": "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	"solana":    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
}

// tokenAddresses maps symbol -> mainnet ERC-20 address for the tradable
// universe. Wrapped variants stand in for native assets.
var tokenAddresses = map[string]string{
	"WETH": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	"WBTC": "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
	"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	"LINK": "0x514910771aF9Ca656af840dff83E8264EcF986CA",
	"UNI":  "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
}

func StablecoinAddress(specificChain string) string {
	if addr, ok := stablecoinAddresses[strings.ToLower(specificChain)]; ok {
		return addr
	}
	return stablecoinAddresses["eth"]
}

func TokenAddress(symbol string) (string, bool) {
	addr, ok := tokenAddresses[strings.ToUpper(symbol)]
	return addr, ok
}

// RecallAdapter talks to the Recall competition API. It implements
// domain.PriceSource, domain.TradeExecutor, domain.RemoteLedgerFeed and
// domain.PortfolioSource.
type RecallAdapter struct {
	apiKey    string
	baseURL   string
	wsURL     string
	client    *http.Client
	wsConn    *websocket.Conn
	wsDone    chan struct{}
	callbacks []func(token string, price float64)
	mu        sync.Mutex
}

func NewRecallAdapter(apiKey, baseURL, wsURL string) *RecallAdapter {
	if baseURL == "" {
		baseURL = RecallBaseURL
	}
	return &RecallAdapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		wsURL:   wsURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		wsDone:  make(chan struct{}),
	}
}

// --- REST API ---

func (r *RecallAdapter) sendRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(jsonBody))
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		// Network level failure, caller may retry with backoff.
		return nil, &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, classifyHTTPError(resp, respBody)
	}
	return respBody, nil
}

// classifyHTTPError maps API failures onto the domain error taxonomy so the
// executor and reconciler can pick retry vs abort without parsing bodies.
func classifyHTTPError(resp *http.Response, body []byte) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = apiErr.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthError{Status: resp.StatusCode, Msg: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &domain.RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "insufficient"):
		return &domain.InsufficientBalanceError{Msg: msg}
	case resp.StatusCode >= 500:
		return &domain.TransientError{Err: fmt.Errorf("server error %d: %s", resp.StatusCode, msg)}
	default:
		return fmt.Errorf("api error %d: %s", resp.StatusCode, msg)
	}
}

// CurrentPrice implements domain.PriceSource.
func (r *RecallAdapter) CurrentPrice(ctx context.Context, token, chain string) (domain.PriceQuote, error) {
	addr, ok := TokenAddress(token)
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("unknown token symbol %q", token)
	}

	q := url.Values{}
	q.Set("token", addr)
	q.Set("chain", "evm")
	q.Set("specificChain", chain)

	body, err := r.sendRequest(ctx, http.MethodGet, "/api/price?"+q.Encode(), nil)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	var result struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse price response: %w", err)
	}
	if result.Price <= 0 {
		return domain.PriceQuote{}, fmt.Errorf("no price for %s on %s", token, chain)
	}

	return domain.PriceQuote{
		Token:      token,
		Chain:      chain,
		Price:      result.Price,
		ObservedAt: time.Now().UTC(),
	}, nil
}

type tradeExecuteRequest struct {
	FromToken string `json:"fromToken"`
	ToToken   string `json:"toToken"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

type tradeExecuteResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Transaction struct {
		ID             string  `json:"id"`
		Price          float64 `json:"price"`
		TradeAmountUSD float64 `json:"tradeAmountUsd"`
	} `json:"transaction"`
}

// Execute implements domain.TradeExecutor. Buys swap stablecoin into the
// token, sells swap the token back. Sell amounts are denominated in token
// units, so the current price is fetched to convert from USD.
func (r *RecallAdapter) Execute(ctx context.Context, token string, side domain.Side, amountUSD float64, chain, reason string) (*domain.TradeResult, error) {
	addr, ok := TokenAddress(token)
	if !ok {
		return nil, fmt.Errorf("unknown token symbol %q", token)
	}
	stable := StablecoinAddress(chain)

	var req tradeExecuteRequest
	req.Reason = reason
	switch side {
	case domain.SideBuy:
		req.FromToken = stable
		req.ToToken = addr
		req.Amount = strconv.FormatFloat(amountUSD, 'f', 6, 64)
	case domain.SideSell:
		quote, err := r.CurrentPrice(ctx, token, chain)
		if err != nil {
			return nil, fmt.Errorf("price for sell sizing: %w", err)
		}
		req.FromToken = addr
		req.ToToken = stable
		req.Amount = strconv.FormatFloat(amountUSD/quote.Price, 'f', 8, 64)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	body, err := r.sendRequest(ctx, http.MethodPost, "/api/trade/execute", req)
	if err != nil {
		var ib *domain.InsufficientBalanceError
		if errors.As(err, &ib) {
			ib.Token = token
		}
		return nil, err
	}

	var result tradeExecuteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse trade response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("trade rejected: %s", result.Error)
	}

	return &domain.TradeResult{
		ID:          result.Transaction.ID,
		FilledPrice: result.Transaction.Price,
		Status:      "executed",
	}, nil
}

type remoteTrade struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	FromTokenSymbol string    `json:"fromTokenSymbol"`
	ToTokenSymbol   string    `json:"toTokenSymbol"`
	TradeAmountUSD  float64   `json:"tradeAmountUsd"`
	Price           float64   `json:"price"`
	SpecificChain   string    `json:"toSpecificChain"`
	Reason          string    `json:"reason"`
}

// FetchTrades implements domain.RemoteLedgerFeed. The venue keys trades by
// from/to token pairs; swaps out of the stablecoin are buys, swaps into it
// are sells.
func (r *RecallAdapter) FetchTrades(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	body, err := r.sendRequest(ctx, http.MethodGet, "/api/agent/trades", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Trades []remoteTrade `json:"trades"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse trades response: %w", err)
	}

	var trades []domain.Trade
	for _, rt := range result.Trades {
		if !since.IsZero() && rt.Timestamp.Before(since) {
			continue
		}
		t := domain.Trade{
			ID:        rt.ID,
			Timestamp: rt.Timestamp.UTC(),
			AmountUSD: rt.TradeAmountUSD,
			Price:     rt.Price,
			Chain:     rt.SpecificChain,
			Reason:    rt.Reason,
		}
		if isStableSymbol(rt.FromTokenSymbol) {
			t.Side = domain.SideBuy
			t.Token = rt.ToTokenSymbol
		} else {
			t.Side = domain.SideSell
			t.Token = rt.FromTokenSymbol
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func isStableSymbol(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "USDC", "USDBC", "USDT", "DAI":
		return true
	}
	return false
}

type balanceEntry struct {
	Symbol string  `json:"tokenSymbol"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
	Value  float64 `json:"value"`
}

// Portfolio implements domain.PortfolioSource. Balances for the same symbol
// across chains are folded into one line.
func (r *RecallAdapter) Portfolio(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	body, err := r.sendRequest(ctx, http.MethodGet, "/api/agent/balances", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Balances []balanceEntry `json:"balances"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse balances response: %w", err)
	}

	snap := &domain.PortfolioSnapshot{ValuesUSD: make(map[string]float64)}
	for _, b := range result.Balances {
		value := b.Value
		if value == 0 {
			value = b.Amount * b.Price
		}
		snap.ValuesUSD[strings.ToUpper(b.Symbol)] += value
		snap.TotalValueUSD += value
	}
	return snap, nil
}

// Healthy probes the venue health endpoint.
func (r *RecallAdapter) Healthy(ctx context.Context) error {
	_, err := r.sendRequest(ctx, http.MethodGet, "/api/health", nil)
	return err
}

// --- WebSocket price stream ---

func (r *RecallAdapter) OnPriceUpdate(callback func(token string, price float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

func (r *RecallAdapter) ConnectWS(tokens []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wsConn != nil {
		// Already connected, just subscribe
		return r.subscribe(tokens)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.apiKey)
	c, _, err := websocket.DefaultDialer.Dial(r.wsURL, header)
	if err != nil {
		return err
	}
	r.wsConn = c

	go r.readLoop()

	return r.subscribe(tokens)
}

func (r *RecallAdapter) Subscribe(tokens []string) error {
	r.mu.Lock()
	if r.wsConn == nil {
		r.mu.Unlock()
		// Not connected yet, ConnectWS will handle it
		return r.ConnectWS(tokens)
	}
	defer r.mu.Unlock()
	return r.subscribe(tokens)
}

func (r *RecallAdapter) subscribe(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	args := make([]string, 0, len(tokens))
	for _, t := range tokens {
		args = append(args, "price."+strings.ToUpper(t))
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return r.wsConn.WriteJSON(subMsg)
}

func (r *RecallAdapter) readLoop() {
	defer func() {
		r.wsConn.Close()
		r.mu.Lock()
		r.wsConn = nil
		r.mu.Unlock()
	}()

	for {
		_, message, err := r.wsConn.ReadMessage()
		if err != nil {
			log.Println("WS Read error:", err)
			close(r.wsDone)
			return
		}

		var event map[string]interface{}
		if err := json.Unmarshal(message, &event); err != nil {
			log.Println("WS Unmarshal error:", err)
			continue
		}

		topic, ok := event["topic"].(string)
		if !ok || !strings.HasPrefix(topic, "price.") {
			continue
		}
		data, ok := event["data"].(map[string]interface{})
		if !ok {
			continue
		}
		price, ok := data["price"].(float64)
		if !ok || price <= 0 {
			continue
		}
		token := strings.TrimPrefix(topic, "price.")

		r.mu.Lock()
		callbacks := make([]func(string, float64), len(r.callbacks))
		copy(callbacks, r.callbacks)
		r.mu.Unlock()

		for _, cb := range callbacks {
			cb(token, price)
		}
	}
}
