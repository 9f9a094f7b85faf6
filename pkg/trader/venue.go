package trader

// OrderSpec 下单请求
type OrderSpec struct {
	Symbol     string
	Side       string  // BUY / SELL
	Type       string  // MARKET / STOP_MARKET / TAKE_PROFIT_MARKET
	Quantity   float64 // 已按精度截断的数量
	StopPrice  float64 // 条件单触发价（仅条件单）
	ReduceOnly bool    // 只减仓
}

// OrderResult 下单结果
type OrderResult struct {
	OrderID  int64
	AvgPrice float64
	Status   string
}

// Venue 实盘交易场所契约。实盘模式下场所是账户状态的唯一权威来源。
type Venue interface {
	// GetAccountState 拉取当前账户快照（余额与持仓）
	GetAccountState(agentID string) (*Portfolio, error)
	// GetTradeHistory 拉取成交历史
	GetTradeHistory(agentID string) ([]Order, error)
	// SetLeverage 设置某币种的杠杆
	SetLeverage(symbol string, leverage int, agentID string) error
	// PlaceOrder 提交订单
	PlaceOrder(spec OrderSpec, agentID string) (*OrderResult, error)
	// GetSymbolPrecisions 拉取各币种的下单数量精度
	GetSymbolPrecisions() (map[string]int, error)
}
