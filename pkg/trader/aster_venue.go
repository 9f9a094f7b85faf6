package trader

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

const asterBaseURL = "https://fapi.asterdex.com"

// AsterVenue Aster永续合约实盘接入。
// 认证方式：对规范化请求参数做keccak256摘要，用API钱包私钥做secp256k1签名。
type AsterVenue struct {
	user       string // 主钱包地址
	signer     string // API钱包地址
	privateKey *ecdsa.PrivateKey
	baseURL    string
	client     *http.Client
}

// NewAsterVenue 创建Aster实盘接入
func NewAsterVenue(user, signer, privateKey string) (*AsterVenue, error) {
	if user == "" || signer == "" || privateKey == "" {
		return nil, fmt.Errorf("Aster配置不完整：user/signer/private_key均为必填")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析Aster私钥失败: %w", err)
	}
	return &AsterVenue{
		user:       user,
		signer:     signer,
		privateKey: key,
		baseURL:    asterBaseURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// sign 对参数做keccak256+secp256k1签名，返回追加签名后的查询串
func (v *AsterVenue) sign(params url.Values) (string, error) {
	params.Set("user", v.user)
	params.Set("signer", v.signer)
	params.Set("nonce", strconv.FormatInt(time.Now().UnixMicro(), 10))
	params.Set("recvWindow", "5000")

	// url.Values.Encode 按key排序，得到规范化串
	canonical := params.Encode()
	digest := crypto.Keccak256([]byte(canonical))
	sig, err := crypto.Sign(digest, v.privateKey)
	if err != nil {
		return "", fmt.Errorf("签名失败: %w", err)
	}
	params.Set("signature", "0x"+hex.EncodeToString(sig))
	return params.Encode(), nil
}

// doSigned 发送签名请求并返回响应体
func (v *AsterVenue) doSigned(method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query, err := v.sign(params)
	if err != nil {
		return nil, err
	}

	var req *http.Request
	if method == http.MethodGet {
		req, err = http.NewRequest(method, v.baseURL+path+"?"+query, nil)
	} else {
		req, err = http.NewRequest(method, v.baseURL+path, strings.NewReader(query))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 响应失败: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s 返回 %d: %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

// parseFloat 交易所的数值字段均为字符串，统一在此解析
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// GetAccountState 拉取账户快照并映射为Portfolio
func (v *AsterVenue) GetAccountState(agentID string) (*Portfolio, error) {
	body, err := v.doSigned(http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		TotalWalletBalance    string `json:"totalWalletBalance"`
		AvailableBalance      string `json:"availableBalance"`
		TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
		Positions             []struct {
			Symbol           string `json:"symbol"`
			PositionAmt      string `json:"positionAmt"`
			EntryPrice       string `json:"entryPrice"`
			UnrealizedProfit string `json:"unrealizedProfit"`
			Leverage         string `json:"leverage"`
			UpdateTime       int64  `json:"updateTime"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("解析账户快照失败: %w", err)
	}

	portfolio := &Portfolio{
		Balance:       parseFloat(payload.AvailableBalance),
		UnrealizedPnL: parseFloat(payload.TotalUnrealizedProfit),
		// 实盘总值以交易所上报为准，不做本地推导
		TotalValue: parseFloat(payload.TotalWalletBalance) + parseFloat(payload.TotalUnrealizedProfit),
		Positions:  make(map[string]*Position),
	}

	for _, p := range payload.Positions {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := SideLong
		if amt < 0 {
			side = SideShort
			amt = -amt
		}
		leverage := int(parseFloat(p.Leverage))
		if leverage < 1 {
			leverage = 1
		}
		entry := parseFloat(p.EntryPrice)
		pos := &Position{
			// 交易所不提供持仓ID，用 symbol-side 作为稳定标识
			ID:            strings.ToUpper(p.Symbol) + "-" + side,
			Symbol:        strings.ToUpper(p.Symbol),
			Side:          side,
			EntryPrice:    entry,
			Size:          amt * entry / float64(leverage),
			Leverage:      leverage,
			UnrealizedPnL: parseFloat(p.UnrealizedProfit),
			OpenedAt:      time.UnixMilli(p.UpdateTime),
		}
		portfolio.Positions[pos.ID] = pos
	}
	return portfolio, nil
}

// GetTradeHistory 拉取成交历史并映射为Order列表
func (v *AsterVenue) GetTradeHistory(agentID string) ([]Order, error) {
	params := url.Values{}
	params.Set("limit", "200")
	body, err := v.doSigned(http.MethodGet, "/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}

	var trades []struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Price       string `json:"price"`
		Qty         string `json:"qty"`
		RealizedPnl string `json:"realizedPnl"`
		Commission  string `json:"commission"`
		Time        int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("解析成交历史失败: %w", err)
	}

	orders := make([]Order, 0, len(trades))
	for _, t := range trades {
		side := SideLong
		if strings.EqualFold(t.Side, "SELL") {
			side = SideShort
		}
		orders = append(orders, Order{
			ID:          strconv.FormatInt(t.OrderID, 10),
			Symbol:      strings.ToUpper(t.Symbol),
			Side:        side,
			ExitPrice:   parseFloat(t.Price),
			Size:        parseFloat(t.Qty) * parseFloat(t.Price),
			RealizedPnL: parseFloat(t.RealizedPnl),
			Fee:         parseFloat(t.Commission),
			Timestamp:   time.UnixMilli(t.Time),
		})
	}
	return orders, nil
}

// SetLeverage 设置币种杠杆
func (v *AsterVenue) SetLeverage(symbol string, leverage int, agentID string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := v.doSigned(http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// PlaceOrder 提交订单
func (v *AsterVenue) PlaceOrder(spec OrderSpec, agentID string) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(spec.Symbol))
	params.Set("side", spec.Side)
	params.Set("type", spec.Type)
	params.Set("quantity", strconv.FormatFloat(spec.Quantity, 'f', -1, 64))
	if spec.StopPrice > 0 {
		params.Set("stopPrice", strconv.FormatFloat(spec.StopPrice, 'f', -1, 64))
	}
	if spec.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := v.doSigned(http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID  int64  `json:"orderId"`
		AvgPrice string `json:"avgPrice"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("解析下单响应失败: %w", err)
	}
	return &OrderResult{
		OrderID:  result.OrderID,
		AvgPrice: parseFloat(result.AvgPrice),
		Status:   result.Status,
	}, nil
}

// GetSymbolPrecisions 拉取各币种的下单数量精度
func (v *AsterVenue) GetSymbolPrecisions() (map[string]int, error) {
	resp, err := v.client.Get(v.baseURL + "/fapi/v1/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("请求exchangeInfo失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取exchangeInfo响应失败: %w", err)
	}

	var payload struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int    `json:"quantityPrecision"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("解析exchangeInfo失败: %w", err)
	}

	precisions := make(map[string]int, len(payload.Symbols))
	for _, s := range payload.Symbols {
		precisions[strings.ToUpper(s.Symbol)] = int(math.Max(0, float64(s.QuantityPrecision)))
	}
	return precisions, nil
}
