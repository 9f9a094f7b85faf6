package manager

import (
	"log"
	"time"

	"backend/pkg/trader"
)

// runRefreshCycle 一次刷新周期：对全部Agent做组合对账。
// 暂停中的Agent也会刷新，保证其展示状态保持最新。
func (m *Manager) runRefreshCycle() {
	if len(m.agentOrder) == 0 {
		return
	}

	snapshot, err := m.feed.Snapshot()
	if err != nil {
		log.Printf("⚠️ 刷新周期: 拉取行情失败，本轮跳过: %v", err)
		return
	}

	prices := make(map[string]float64, len(snapshot))
	for symbol, t := range snapshot {
		prices[symbol] = t.Price
	}

	for _, id := range m.agentOrder {
		a := m.agents[id]
		if a.Mode == trader.ModeLive {
			m.refreshLive(a)
		} else {
			m.refreshSimulated(a, prices)
		}
	}
}

// refreshSimulated 模拟盘对账：本地重算。
// 每个持仓的未实现盈亏按最新标记价重算（与平仓公式一致，不含手续费），
// 总值 = 余额 + Σ保证金 + Σ未实现盈亏。
func (m *Manager) refreshSimulated(a *trader.Agent, prices map[string]float64) {
	a.Lock()
	defer a.Unlock()

	now := time.Now()
	totalMargin := 0.0
	totalUnrealized := 0.0
	for _, pos := range a.Portfolio.Positions {
		if price, ok := prices[pos.Symbol]; ok && price > 0 {
			pos.UnrealizedPnL = trader.UnrealizedPnL(pos.Side, pos.EntryPrice, price, pos.Size, pos.Leverage)
		}
		totalMargin += pos.Size
		totalUnrealized += pos.UnrealizedPnL
	}

	a.Portfolio.UnrealizedPnL = totalUnrealized
	a.Portfolio.TotalValue = a.Portfolio.Balance + totalMargin + totalUnrealized
	a.AppendValuePoint(a.Portfolio.TotalValue, now)

	if err := m.states.Save(a); err != nil {
		log.Printf("⚠️ [%s] 刷新后落盘失败: %v", a.Name, err)
	}
}

// refreshLive 实盘对账（自行加锁）
func (m *Manager) refreshLive(a *trader.Agent) {
	a.Lock()
	defer a.Unlock()
	m.reconcileLiveLocked(a)
}

// reconcileLiveLocked 实盘对账：交易所是唯一权威来源，
// 本地组合与成交历史整体替换为交易所快照。
// 失败时保留上一次已知状态，只记录警告，绝不致命。
// 调用方必须已持有Agent锁。
func (m *Manager) reconcileLiveLocked(a *trader.Agent) {
	venue, ok := m.venues[a.ID]
	if !ok {
		return
	}

	portfolio, err := venue.GetAccountState(a.ID)
	if err != nil {
		log.Printf("⚠️ [%s] 实盘对账失败，保留上次状态: %v", a.Name, err)
		return
	}

	orders, err := venue.GetTradeHistory(a.ID)
	if err != nil {
		log.Printf("⚠️ [%s] 拉取成交历史失败，保留上次记录: %v", a.Name, err)
	} else {
		a.Orders = orders
		// 已实现盈亏、交易计数与胜率全部从交易所成交历史重算
		realized := 0.0
		trades, wins := 0, 0
		for _, o := range orders {
			realized += o.RealizedPnL
			if o.RealizedPnL != 0 {
				trades++
				if o.RealizedPnL > 0 {
					wins++
				}
			}
		}
		a.RealizedPnL = realized
		a.TradeCount = trades
		a.WinCount = wins
	}

	a.Portfolio = *portfolio

	// 初始金额只在首次同步成功时记录一次，之后永不覆盖，
	// 即使交易所余额已经变化（仅用于收益率展示）
	if !a.InitialBalanceSet {
		a.InitialBalance = portfolio.TotalValue
		a.InitialBalanceSet = true
		log.Printf("💰 [%s] 首次同步成功，记录初始金额 %.2f USD", a.Name, a.InitialBalance)
	}

	a.AppendValuePoint(a.Portfolio.TotalValue, time.Now())

	if err := m.states.Save(a); err != nil {
		log.Printf("⚠️ [%s] 对账后落盘失败: %v", a.Name, err)
	}
}
