package manager

import (
	"encoding/json"
	"fmt"
	"log"

	"backend/pkg/logger"
	"backend/pkg/trader"
)

// AgentSnapshot 供API层使用的只读状态（在Agent锁内序列化，无并发读写问题）
func (m *Manager) AgentSnapshot(agentID string) (json.RawMessage, error) {
	a, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent '%s' 不存在", agentID)
	}
	a.Lock()
	defer a.Unlock()
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("序列化Agent '%s' 状态失败: %w", agentID, err)
	}
	return payload, nil
}

// AgentSnapshots 全部Agent的只读状态，按装配顺序
func (m *Manager) AgentSnapshots() []json.RawMessage {
	snapshots := make([]json.RawMessage, 0, len(m.agentOrder))
	for _, id := range m.agentOrder {
		if snap, err := m.AgentSnapshot(id); err == nil {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots
}

// AgentIDs 全部Agent ID，按装配顺序
func (m *Manager) AgentIDs() []string {
	ids := make([]string, len(m.agentOrder))
	copy(ids, m.agentOrder)
	return ids
}

// SetAgentPaused 设置单个Agent的暂停状态。
// 暂停只压制该Agent的决策回合，刷新周期不受影响。
func (m *Manager) SetAgentPaused(agentID string, paused bool) error {
	a, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("agent '%s' 不存在", agentID)
	}
	a.Lock()
	a.Paused = paused
	err := m.states.Save(a)
	a.Unlock()

	if paused {
		log.Printf("⏸ Agent '%s' 已暂停（仅决策周期）", agentID)
	} else {
		log.Printf("▶️ Agent '%s' 已恢复", agentID)
	}
	return err
}

// ResetAgent 重置Agent账本到初始状态。实盘模式下拒绝重置。
func (m *Manager) ResetAgent(agentID string) error {
	a, ok := m.agents[agentID]
	if !ok {
		return fmt.Errorf("agent '%s' 不存在", agentID)
	}

	ac := m.agentCfgs[agentID]

	a.Lock()
	defer a.Unlock()

	if a.Mode == trader.ModeLive {
		return fmt.Errorf("实盘模式下禁止重置Agent '%s'", agentID)
	}

	a.Portfolio = trader.NewPortfolio(ac.InitialBalance)
	a.Orders = nil
	a.TurnLogs = nil
	a.ValueHistory = nil
	a.Cooldowns = trader.NewCooldownTracker()
	a.InitialBalance = ac.InitialBalance
	a.InitialBalanceSet = false
	a.RealizedPnL = 0
	a.TradeCount = 0
	a.WinCount = 0

	if err := m.turns.DeleteByAgent(agentID); err != nil {
		log.Printf("⚠️ 清空Agent '%s' 回合记录失败: %v", agentID, err)
	}
	if err := m.states.Save(a); err != nil {
		return fmt.Errorf("重置后落盘失败: %w", err)
	}
	log.Printf("🔄 Agent '%s' 已重置，初始余额 %.2f USD", agentID, ac.InitialBalance)
	return nil
}

// ManualClosePosition 手动平掉指定持仓，走与决策回合相同的执行引擎
func (m *Manager) ManualClosePosition(agentID, positionID string) ([]string, error) {
	a, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agent '%s' 不存在", agentID)
	}

	snapshot, err := m.feed.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("拉取行情失败: %w", err)
	}
	prices := make(map[string]float64, len(snapshot))
	for symbol, t := range snapshot {
		prices[symbol] = t.Price
	}

	a.Lock()
	defer a.Unlock()

	pos := a.FindPosition(positionID)
	if pos == nil {
		return nil, fmt.Errorf("持仓 '%s' 不存在", positionID)
	}

	closeDecision := trader.ValidatedDecision{
		Decision: trader.Decision{
			Action:        trader.ActionClose,
			Symbol:        pos.Symbol,
			CloseTargetID: positionID,
			Rationale:     "手动平仓",
		},
	}
	notes := m.executors[agentID].Execute(a, []trader.ValidatedDecision{closeDecision}, prices)

	if a.Mode == trader.ModeLive {
		m.reconcileLiveLocked(a)
	}
	if err := m.states.Save(a); err != nil {
		log.Printf("⚠️ [%s] 手动平仓后落盘失败: %v", a.Name, err)
	}
	log.Printf("🖐 [%s] 手动平仓 %s 完成", a.Name, positionID)
	return notes, nil
}

// RecentTurns 查询某Agent最近的回合记录
func (m *Manager) RecentTurns(agentID string, limit int) ([]logger.TurnRecord, error) {
	if _, ok := m.agents[agentID]; !ok {
		return nil, fmt.Errorf("agent '%s' 不存在", agentID)
	}
	return m.turns.Recent(agentID, limit)
}
