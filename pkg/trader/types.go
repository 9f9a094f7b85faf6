package trader

import (
	"strings"
	"sync"
	"time"

	"backend/pkg/logger"
)

// 决策动作
const (
	ActionLong  = "LONG"
	ActionShort = "SHORT"
	ActionClose = "CLOSE"
	ActionHold  = "HOLD"
)

// 交易模式
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// 持仓方向
const (
	SideLong  = "long"
	SideShort = "short"
)

const (
	// MaxTurnLogs 每个Agent保留的回合记录数量上限
	MaxTurnLogs = 50
	// MaxValuePoints 每个Agent保留的总值采样点数量上限
	MaxValuePoints = 300
)

// Decision 决策源提出的单个操作
type Decision struct {
	Action        string  `json:"action"` // LONG / SHORT / CLOSE / HOLD
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`     // 保证金（USD），非名义价值
	Leverage      int     `json:"leverage"` // 请求杠杆倍数
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	CloseTargetID string  `json:"close_target_id,omitempty"` // CLOSE时的目标持仓ID
	Rationale     string  `json:"rationale,omitempty"`       // 决策源给出的理由
}

// IsDirectional 是否为方向性开仓决策（LONG/SHORT）
func (d Decision) IsDirectional() bool {
	return d.Action == ActionLong || d.Action == ActionShort
}

// Position 一笔未平仓持仓
type Position struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // long / short
	EntryPrice    float64   `json:"entry_price"`
	Size          float64   `json:"size"`     // 保证金（USD）
	Leverage      int       `json:"leverage"` // ≥1
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Quantity 名义数量 = size × leverage / entryPrice
func (p *Position) Quantity() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Size * float64(p.Leverage) / p.EntryPrice
}

// Order 交易记录（开仓时追加，平仓时补全；ExitPrice为0表示尚未平仓）
type Order struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"` // long / short
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"` // 0 = 未平仓
	Size        float64   `json:"size"`
	Leverage    int       `json:"leverage"`
	RealizedPnL float64   `json:"realized_pnl"`
	Fee         float64   `json:"fee"`
	Timestamp   time.Time `json:"timestamp"`
}

// Portfolio 账户组合
type Portfolio struct {
	Balance       float64              `json:"balance"`        // 未占用资金
	UnrealizedPnL float64              `json:"unrealized_pnl"` // 未实现盈亏合计
	TotalValue    float64              `json:"total_value"`    // 总值
	Positions     map[string]*Position `json:"positions"`      // key: 持仓ID
}

// NewPortfolio 创建初始组合
func NewPortfolio(balance float64) Portfolio {
	return Portfolio{
		Balance:    balance,
		TotalValue: balance,
		Positions:  make(map[string]*Position),
	}
}

// Agent 一个独立调度的交易智能体
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Mode         string `json:"mode"`          // simulated / live
	ProviderKind string `json:"provider_kind"` // 决策源类型
	Prompt       string `json:"prompt"`        // 个性化prompt（叠加在系统prompt之上）
	Paused       bool   `json:"paused"`

	// InitialBalance 初始金额，仅用于收益率展示。
	// live模式下在首次同步成功时记录一次，之后永不覆盖。
	InitialBalance    float64 `json:"initial_balance"`
	InitialBalanceSet bool    `json:"initial_balance_set"`

	Portfolio    Portfolio            `json:"portfolio"`
	Orders       []Order              `json:"orders"`
	TurnLogs     []logger.TurnRecord  `json:"turn_logs"`
	ValueHistory []logger.ValuePoint  `json:"value_history"`
	Cooldowns    *CooldownTracker     `json:"cooldowns"`

	RealizedPnL float64   `json:"realized_pnl"`
	TradeCount  int       `json:"trade_count"`
	WinCount    int       `json:"win_count"`
	CreatedAt   time.Time `json:"created_at"`

	mu sync.Mutex
}

// NewAgent 创建新Agent
func NewAgent(id, name, mode, providerKind, prompt string, initialBalance float64) *Agent {
	return &Agent{
		ID:             id,
		Name:           name,
		Mode:           mode,
		ProviderKind:   providerKind,
		Prompt:         prompt,
		InitialBalance: initialBalance,
		Portfolio:      NewPortfolio(initialBalance),
		Cooldowns:      NewCooldownTracker(),
		CreatedAt:      time.Now(),
	}
}

// Lock 获取Agent锁。刷新周期和决策周期对同一Agent的所有变更
// 都必须经过此锁，两条定时路径不会交错修改同一条记录。
func (a *Agent) Lock() { a.mu.Lock() }

// Unlock 释放Agent锁
func (a *Agent) Unlock() { a.mu.Unlock() }

// FindPosition 按ID查找持仓，不存在返回nil
func (a *Agent) FindPosition(id string) *Position {
	if id == "" {
		return nil
	}
	return a.Portfolio.Positions[id]
}

// PositionBySymbol 按币种查找持仓（策略层面约定每个币种至多一个持仓）
func (a *Agent) PositionBySymbol(symbol string) *Position {
	symbol = strings.ToUpper(symbol)
	for _, p := range a.Portfolio.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// AppendTurnLog 追加回合记录，超过上限时淘汰最旧的
func (a *Agent) AppendTurnLog(rec logger.TurnRecord) {
	a.TurnLogs = append(a.TurnLogs, rec)
	if len(a.TurnLogs) > MaxTurnLogs {
		a.TurnLogs = a.TurnLogs[len(a.TurnLogs)-MaxTurnLogs:]
	}
}

// AppendValuePoint 追加总值采样点，超过上限时淘汰最旧的
func (a *Agent) AppendValuePoint(totalValue float64, ts time.Time) {
	a.ValueHistory = append(a.ValueHistory, logger.ValuePoint{Timestamp: ts, TotalValue: totalValue})
	if len(a.ValueHistory) > MaxValuePoints {
		a.ValueHistory = a.ValueHistory[len(a.ValueHistory)-MaxValuePoints:]
	}
}

// RecordClose 平仓后更新交易统计
func (a *Agent) RecordClose(realizedPnL float64) {
	a.RealizedPnL += realizedPnL
	a.TradeCount++
	if realizedPnL > 0 {
		a.WinCount++
	}
}

// WinRate 胜率（0~1）
func (a *Agent) WinRate() float64 {
	if a.TradeCount == 0 {
		return 0
	}
	return float64(a.WinCount) / float64(a.TradeCount)
}

// UnrealizedPnL 按最新标记价计算持仓未实现盈亏（与平仓公式一致，不含手续费）
func UnrealizedPnL(side string, entryPrice, markPrice, size float64, leverage int) float64 {
	if entryPrice <= 0 {
		return 0
	}
	quantity := size * float64(leverage) / entryPrice
	direction := 1.0
	if side == SideShort {
		direction = -1.0
	}
	return (markPrice - entryPrice) * quantity * direction
}
