package trader

import (
	"fmt"
	"log"
	"time"
)

// LiveExecutor 实盘执行引擎。分阶段、软失败：
// 每个阶段的失败只终止当前决策并记录注记；保护性订单（止损/止盈）
// 的失败独立记录，不回滚已成交的开仓单。
type LiveExecutor struct {
	Venue          Venue
	Precision      *PrecisionTable
	MinSize        float64       // 最小下单保证金（USD）
	CooldownWindow time.Duration // 平仓成功后的冷却时长
}

// NewLiveExecutor 创建实盘执行引擎
func NewLiveExecutor(venue Venue, precision *PrecisionTable, minSize float64, cooldown time.Duration) *LiveExecutor {
	return &LiveExecutor{
		Venue:          venue,
		Precision:      precision,
		MinSize:        minSize,
		CooldownWindow: cooldown,
	}
}

// Execute 依次执行决策，调用方必须已持有Agent锁
func (e *LiveExecutor) Execute(a *Agent, decisions []ValidatedDecision, prices map[string]float64) []string {
	notes := make([]string, 0, len(decisions))
	now := time.Now()

	for _, vd := range decisions {
		switch vd.Decision.Action {
		case ActionLong, ActionShort:
			notes = append(notes, e.open(a, vd, prices)...)
		case ActionClose:
			notes = append(notes, e.close(a, vd, now)...)
		}
	}
	return notes
}

// open 实盘开仓（阶段化）
func (e *LiveExecutor) open(a *Agent, vd ValidatedDecision, prices map[string]float64) []string {
	d := vd.Decision
	var notes []string

	account, err := e.Venue.GetAccountState(a.ID)
	if err != nil {
		return []string{fmt.Sprintf("❌ 开仓失败 %s %s: 获取账户状态失败: %v", d.Action, d.Symbol, err)}
	}
	available := account.Balance

	// a. 可用余额不足最小下单额：整单拒绝，不做任何调整
	if available < e.MinSize {
		return []string{fmt.Sprintf("❌ 拒绝 %s %s: 可用余额 %.2f 低于最小下单额 %.2f",
			d.Action, d.Symbol, available, e.MinSize)}
	}

	// b. 仓位超出可用余额：下调到可用余额并记录调整
	size := d.Size
	if size > available {
		notes = append(notes, fmt.Sprintf("⚙️ %s 仓位从 %.2f 调整为可用余额 %.2f", d.Symbol, size, available))
		size = available
	}

	// c. 调整后重新检查最小下单额
	if size < e.MinSize {
		notes = append(notes, fmt.Sprintf("❌ 拒绝 %s %s: 调整后仓位 %.2f 低于最小下单额 %.2f",
			d.Action, d.Symbol, size, e.MinSize))
		return notes
	}

	// d. 在交易所设置杠杆
	if err := e.Venue.SetLeverage(d.Symbol, vd.Leverage, a.ID); err != nil {
		notes = append(notes, fmt.Sprintf("❌ 开仓失败 %s %s: 设置杠杆失败: %v", d.Action, d.Symbol, err))
		return notes
	}

	price, ok := prices[d.Symbol]
	if !ok || price <= 0 {
		notes = append(notes, fmt.Sprintf("❌ 开仓失败 %s %s: 无可用行情", d.Action, d.Symbol))
		return notes
	}

	// e. 数量 = 名义价值 / 当前价，按精度向零截断
	quantity := e.Precision.Truncate(d.Symbol, size*float64(vd.Leverage)/price)

	// f. 截断后数量为0：放弃本决策
	if quantity <= 0 {
		notes = append(notes, fmt.Sprintf("⚠️ 放弃 %s %s: 按精度截断后数量为0", d.Action, d.Symbol))
		return notes
	}

	side := "BUY"
	posSide := SideLong
	if d.Action == ActionShort {
		side = "SELL"
		posSide = SideShort
	}

	// g. 提交市价开仓单
	result, err := e.Venue.PlaceOrder(OrderSpec{
		Symbol:   d.Symbol,
		Side:     side,
		Type:     "MARKET",
		Quantity: quantity,
	}, a.ID)
	if err != nil {
		notes = append(notes, fmt.Sprintf("❌ 开仓失败 %s %s: %v", d.Action, d.Symbol, err))
		return notes
	}
	log.Printf("📈 [%s] 实盘开仓 %s %s 数量 %v (订单 %d)", a.Name, posSide, d.Symbol, quantity, result.OrderID)
	notes = append(notes, fmt.Sprintf("✓ 开仓成功 %s %s 数量 %v (订单 %d)", posSide, d.Symbol, quantity, result.OrderID))

	// h. 独立提交止损/止盈只减仓条件单，每条腿单独记录，失败不回滚开仓
	closeSide := "SELL"
	if posSide == SideShort {
		closeSide = "BUY"
	}
	if d.StopLoss > 0 {
		if _, err := e.Venue.PlaceOrder(OrderSpec{
			Symbol:     d.Symbol,
			Side:       closeSide,
			Type:       "STOP_MARKET",
			Quantity:   quantity,
			StopPrice:  d.StopLoss,
			ReduceOnly: true,
		}, a.ID); err != nil {
			notes = append(notes, fmt.Sprintf("⚠️ %s 止损单设置失败（开仓不回滚）: %v", d.Symbol, err))
		} else {
			notes = append(notes, fmt.Sprintf("✓ %s 止损单已设置 @ %.4f", d.Symbol, d.StopLoss))
		}
	}
	if d.TakeProfit > 0 {
		if _, err := e.Venue.PlaceOrder(OrderSpec{
			Symbol:     d.Symbol,
			Side:       closeSide,
			Type:       "TAKE_PROFIT_MARKET",
			Quantity:   quantity,
			StopPrice:  d.TakeProfit,
			ReduceOnly: true,
		}, a.ID); err != nil {
			notes = append(notes, fmt.Sprintf("⚠️ %s 止盈单设置失败（开仓不回滚）: %v", d.Symbol, err))
		} else {
			notes = append(notes, fmt.Sprintf("✓ %s 止盈单已设置 @ %.4f", d.Symbol, d.TakeProfit))
		}
	}
	return notes
}

// close 实盘平仓
func (e *LiveExecutor) close(a *Agent, vd ValidatedDecision, now time.Time) []string {
	d := vd.Decision

	pos := a.FindPosition(d.CloseTargetID)
	if pos == nil && d.Symbol != "" {
		pos = a.PositionBySymbol(d.Symbol)
	}
	if pos == nil {
		// 交易所侧"已不存在"属于良性信号，按无操作处理
		return []string{fmt.Sprintf("⚠️ 平仓跳过 %s: 目标持仓不存在（可能已平仓）", d.Symbol)}
	}

	quantity := e.Precision.Truncate(pos.Symbol, pos.Quantity())
	if quantity <= 0 {
		return []string{fmt.Sprintf("⚠️ 放弃平仓 %s: 按精度截断后数量为0", pos.Symbol)}
	}

	side := "SELL"
	if pos.Side == SideShort {
		side = "BUY"
	}

	result, err := e.Venue.PlaceOrder(OrderSpec{
		Symbol:     pos.Symbol,
		Side:       side,
		Type:       "MARKET",
		Quantity:   quantity,
		ReduceOnly: true,
	}, a.ID)
	if err != nil {
		return []string{fmt.Sprintf("❌ 平仓失败 %s %s: %v", pos.Side, pos.Symbol, err)}
	}

	// 平仓成功后启动该币种冷却
	a.Cooldowns.Start(pos.Symbol, e.CooldownWindow, now)
	log.Printf("📉 [%s] 实盘平仓 %s %s 数量 %v (订单 %d)", a.Name, pos.Side, pos.Symbol, quantity, result.OrderID)
	return []string{fmt.Sprintf("✓ 平仓成功 %s %s 数量 %v (订单 %d)", pos.Side, pos.Symbol, quantity, result.OrderID)}
}
