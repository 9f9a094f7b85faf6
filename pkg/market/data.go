package market

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// 当前使用的交易所行情API（仅支持aster）
var (
	baseAPIURL    = "https://fapi.asterdex.com"
	exchangeMutex sync.RWMutex
)

// SetExchange 切换行情来源（仅支持aster，未知名称回落到aster）
func SetExchange(exchange string) {
	exchangeMutex.Lock()
	defer exchangeMutex.Unlock()

	if strings.ToLower(exchange) != "aster" {
		log.Printf("📊 行情API: 未知交易所 '%s'，默认使用Aster", exchange)
	}
	baseAPIURL = "https://fapi.asterdex.com"
}

// Ticker 单个币种的行情快照
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"` // 24小时涨跌幅（百分比）
}

// Feed 轮询式行情源
type Feed struct {
	symbols map[string]bool
	client  *http.Client
}

// NewFeed 创建行情源，symbols为关注的币种池
func NewFeed(symbols []string) *Feed {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[Normalize(s)] = true
	}
	return &Feed{
		symbols: set,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Normalize 统一币种符号格式（大写，补全USDT后缀）
func Normalize(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol != "" && !strings.HasSuffix(symbol, "USDT") {
		symbol += "USDT"
	}
	return symbol
}

// Fetch 拉取币种池内全部币种的最新行情
func (f *Feed) Fetch() ([]Ticker, error) {
	exchangeMutex.RLock()
	url := baseAPIURL + "/fapi/v1/ticker/24hr"
	exchangeMutex.RUnlock()

	resp, err := f.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("请求行情失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取行情响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("行情接口返回 %d: %s", resp.StatusCode, string(body))
	}

	var raw []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("解析行情失败: %w", err)
	}

	tickers := make([]Ticker, 0, len(f.symbols))
	for _, r := range raw {
		symbol := strings.ToUpper(r.Symbol)
		if !f.symbols[symbol] {
			continue
		}
		price, err := strconv.ParseFloat(r.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		change, _ := strconv.ParseFloat(r.PriceChangePercent, 64)
		tickers = append(tickers, Ticker{Symbol: symbol, Price: price, Change24h: change})
	}

	if len(tickers) == 0 {
		return nil, fmt.Errorf("行情接口未返回任何关注币种的数据")
	}
	return tickers, nil
}

// Snapshot 以map形式返回行情快照（symbol -> Ticker）
func (f *Feed) Snapshot() (map[string]Ticker, error) {
	tickers, err := f.Fetch()
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]Ticker, len(tickers))
	for _, t := range tickers {
		snapshot[t.Symbol] = t
	}
	return snapshot, nil
}

// Prices 将行情快照压缩为 symbol -> 最新价
func Prices(snapshot map[string]Ticker) map[string]float64 {
	prices := make(map[string]float64, len(snapshot))
	for symbol, t := range snapshot {
		prices[symbol] = t.Price
	}
	return prices
}
