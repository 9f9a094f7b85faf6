package trader

import (
	"fmt"
	"strings"
	"time"
)

// LeverageCaps 杠杆上限配置：BTC/ETH与山寨币分别限制
type LeverageCaps struct {
	BTCETH  int
	Altcoin int
}

// For 返回该币种允许的最大杠杆
func (c LeverageCaps) For(symbol string) int {
	switch strings.ToUpper(symbol) {
	case "BTCUSDT", "ETHUSDT":
		return c.BTCETH
	default:
		return c.Altcoin
	}
}

// Rules 校验管线的风控参数
type Rules struct {
	MinSize  float64      // 最小仓位（保证金，USD）
	Leverage LeverageCaps // 各币种杠杆上限
}

// ValidatedDecision 通过校验的决策及其有效杠杆
type ValidatedDecision struct {
	Decision Decision
	Leverage int // 钳制后的有效杠杆
}

// ValidateDecisions 校验管线（纯函数）。
// 按原始顺序对每个决策依次执行三项检查：
//  1. 最小仓位 —— 方向性决策低于最小值时拒绝；
//  2. 冷却期   —— 方向性决策命中未到期冷却时拒绝；
//  3. 杠杆钳制 —— 超出币种上限时降到上限，记录调整注记，不拒绝。
//
// 返回存活的（决策，有效杠杆）列表和全部注记，均保持原始顺序。
func ValidateDecisions(decisions []Decision, cooldowns *CooldownTracker, rules Rules, now time.Time) ([]ValidatedDecision, []string) {
	accepted := make([]ValidatedDecision, 0, len(decisions))
	notes := make([]string, 0)

	for _, d := range decisions {
		leverage := d.Leverage

		if d.IsDirectional() {
			// 1. 最小仓位检查（仅方向性决策）
			if d.Size < rules.MinSize {
				notes = append(notes, fmt.Sprintf("❌ 拒绝 %s %s: 仓位 %.2f USD 低于最小值 %.2f USD",
					d.Action, d.Symbol, d.Size, rules.MinSize))
				continue
			}

			// 2. 冷却期检查（仅方向性决策）
			if remaining, active := cooldowns.Remaining(d.Symbol, now); active {
				notes = append(notes, fmt.Sprintf("❌ 拒绝 %s %s: 冷却中，剩余 %s",
					d.Action, d.Symbol, remaining.Round(time.Second)))
				continue
			}

			// 3. 杠杆钳制（调整而非拒绝，仅对开仓有意义）
			if leverage < 1 {
				leverage = 1
			}
			if maxLev := rules.Leverage.For(d.Symbol); maxLev > 0 && leverage > maxLev {
				notes = append(notes, fmt.Sprintf("⚙️ %s 杠杆 %dx 超出上限，调整为 %dx",
					d.Symbol, leverage, maxLev))
				leverage = maxLev
			}
		}

		accepted = append(accepted, ValidatedDecision{Decision: d, Leverage: leverage})
	}

	return accepted, notes
}
