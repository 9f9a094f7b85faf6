package trader

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// SimulatedExecutor 模拟盘执行引擎：全部账本运算在本地完成。
// 开仓从余额中扣除保证金并创建持仓；平仓按
// PnL = (exit − entry) × quantity × 方向 计算已实现盈亏，
// 开平两侧名义价值各收取一次固定比例手续费。
type SimulatedExecutor struct {
	FeeRate        float64       // 手续费率（对名义价值）
	CooldownWindow time.Duration // 平仓后该币种的冷却时长
}

// NewSimulatedExecutor 创建模拟盘执行引擎
func NewSimulatedExecutor(feeRate float64, cooldown time.Duration) *SimulatedExecutor {
	return &SimulatedExecutor{FeeRate: feeRate, CooldownWindow: cooldown}
}

// Execute 依次执行决策，调用方必须已持有Agent锁
func (e *SimulatedExecutor) Execute(a *Agent, decisions []ValidatedDecision, prices map[string]float64) []string {
	notes := make([]string, 0, len(decisions))
	now := time.Now()

	for _, vd := range decisions {
		switch vd.Decision.Action {
		case ActionLong, ActionShort:
			notes = append(notes, e.open(a, vd, prices, now))
		case ActionClose:
			notes = append(notes, e.close(a, vd, prices, now))
		}
	}
	return notes
}

func (e *SimulatedExecutor) open(a *Agent, vd ValidatedDecision, prices map[string]float64, now time.Time) string {
	d := vd.Decision
	price, ok := prices[d.Symbol]
	if !ok || price <= 0 {
		return fmt.Sprintf("❌ 开仓失败 %s %s: 无可用行情", d.Action, d.Symbol)
	}

	// 策略约定：同一币种同时至多一个持仓
	if existing := a.PositionBySymbol(d.Symbol); existing != nil {
		return fmt.Sprintf("❌ 开仓失败 %s %s: 已有持仓 %s", d.Action, d.Symbol, existing.ID)
	}

	if d.Size > a.Portfolio.Balance {
		return fmt.Sprintf("❌ 开仓失败 %s %s: 余额不足（需要 %.2f，可用 %.2f）",
			d.Action, d.Symbol, d.Size, a.Portfolio.Balance)
	}

	side := SideLong
	if d.Action == ActionShort {
		side = SideShort
	}

	pos := &Position{
		ID:         uuid.NewString(),
		Symbol:     d.Symbol,
		Side:       side,
		EntryPrice: price,
		Size:       d.Size,
		Leverage:   vd.Leverage,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		OpenedAt:   now,
	}

	a.Portfolio.Balance -= d.Size
	a.Portfolio.Positions[pos.ID] = pos
	a.Orders = append(a.Orders, Order{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: price,
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		Timestamp:  now,
	})

	log.Printf("📈 [%s] 模拟开仓 %s %s @ %.4f (保证金 %.2f, %dx)", a.Name, side, d.Symbol, price, d.Size, vd.Leverage)
	return fmt.Sprintf("✓ 开仓成功 %s %s @ %.4f (保证金 %.2f, %dx杠杆)", side, d.Symbol, price, d.Size, vd.Leverage)
}

func (e *SimulatedExecutor) close(a *Agent, vd ValidatedDecision, prices map[string]float64, now time.Time) string {
	d := vd.Decision

	pos := a.FindPosition(d.CloseTargetID)
	if pos == nil && d.Symbol != "" {
		pos = a.PositionBySymbol(d.Symbol)
	}
	if pos == nil {
		// 目标持仓已不存在：视为良性信号，不算错误
		return fmt.Sprintf("⚠️ 平仓跳过 %s: 目标持仓不存在（可能已平仓）", d.Symbol)
	}

	price, ok := prices[pos.Symbol]
	if !ok || price <= 0 {
		return fmt.Sprintf("❌ 平仓失败 %s: 无可用行情", pos.Symbol)
	}

	quantity := pos.Quantity()
	direction := 1.0
	if pos.Side == SideShort {
		direction = -1.0
	}

	pnl := (price - pos.EntryPrice) * quantity * direction
	openFee := pos.Size * float64(pos.Leverage) * e.FeeRate // 开仓名义价值手续费
	closeFee := quantity * price * e.FeeRate                // 平仓名义价值手续费
	fee := openFee + closeFee
	realized := pnl - fee

	a.Portfolio.Balance += pos.Size + pnl - fee
	delete(a.Portfolio.Positions, pos.ID)

	// 补全开仓时追加的交易记录
	for i := range a.Orders {
		if a.Orders[i].ID == pos.ID {
			a.Orders[i].ExitPrice = price
			a.Orders[i].RealizedPnL = realized
			a.Orders[i].Fee = fee
			break
		}
	}

	a.RecordClose(realized)
	a.Cooldowns.Start(pos.Symbol, e.CooldownWindow, now)

	log.Printf("📉 [%s] 模拟平仓 %s %s @ %.4f, 已实现盈亏 %.2f (含手续费 %.4f)", a.Name, pos.Side, pos.Symbol, price, realized, fee)
	return fmt.Sprintf("✓ 平仓成功 %s %s @ %.4f, 已实现盈亏 %.2f USD", pos.Side, pos.Symbol, price, realized)
}
