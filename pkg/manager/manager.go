package manager

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"backend/pkg/config"
	"backend/pkg/decision"
	"backend/pkg/logger"
	"backend/pkg/market"
	"backend/pkg/scheduler"
	"backend/pkg/storage"
	"backend/pkg/trader"
)

// precisionSyncTimeout 启动时拉取交易所精度元数据的超时；
// 超时后回落到默认精度，绝不阻塞启动。
const precisionSyncTimeout = 10 * time.Second

// Manager Agent编排核心：持有全部Agent及其决策源/执行引擎绑定，
// 驱动决策回合与组合对账，对外暴露控制面。
// agents等映射只在构造期写入，运行期只读；Agent内部状态由各自的锁保护。
type Manager struct {
	cfg *config.Config

	agents     map[string]*trader.Agent
	agentOrder []string // 固定遍历顺序，回合内严格串行
	agentCfgs  map[string]config.AgentConfig
	providers  map[string]decision.Provider
	executors  map[string]trader.Executor
	venues     map[string]trader.Venue

	precision *trader.PrecisionTable
	feed      *market.Feed
	states    *storage.StateStorage
	turns     *storage.TurnStorage
	sched     *scheduler.Scheduler

	cycleCount int64
}

// New 构建Manager：从配置装配全部启用的Agent。
// 单个Agent的配置错误只跳过该Agent并记录日志，不阻止引擎启动。
func New(cfg *config.Config, states *storage.StateStorage, turns *storage.TurnStorage) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		agents:    make(map[string]*trader.Agent),
		agentCfgs: make(map[string]config.AgentConfig),
		providers: make(map[string]decision.Provider),
		executors: make(map[string]trader.Executor),
		venues:    make(map[string]trader.Venue),
		precision: trader.NewPrecisionTable(-1),
		feed:      market.NewFeed(cfg.Symbols),
		states:    states,
		turns:     turns,
	}

	active := cfg.ActiveAgents()
	if len(active) == 0 {
		log.Println("⚠️ 配置中没有启用的Agent，引擎将空转")
	}

	var precisionSynced bool
	for _, ac := range active {
		if err := m.addAgent(ac, &precisionSynced); err != nil {
			log.Printf("❌ Agent '%s' 装配失败，已跳过: %v", ac.ID, err)
		}
	}

	m.sched = scheduler.New(cfg.RefreshInterval(), cfg.TurnInterval(), m.runRefreshCycle, m.runTurnCycle)
	return m, nil
}

// addAgent 装配单个Agent：恢复持久化账本、绑定决策源与执行引擎
func (m *Manager) addAgent(ac config.AgentConfig, precisionSynced *bool) error {
	provider, err := decision.NewProvider(ac.Provider, decision.ProviderConfig{
		DeepSeekKey:     ac.DeepSeekKey,
		QwenKey:         ac.QwenKey,
		CustomAPIURL:    ac.CustomAPIURL,
		CustomAPIKey:    ac.CustomAPIKey,
		CustomModelName: ac.CustomModelName,
	})
	if err != nil {
		return err
	}

	// 优先恢复持久化账本（崩溃续跑）
	agent, err := m.states.Load(ac.ID)
	if err != nil {
		log.Printf("⚠️ 恢复Agent '%s' 账本失败，将重新创建: %v", ac.ID, err)
		agent = nil
	}
	if agent == nil {
		agent = trader.NewAgent(ac.ID, ac.Name, ac.Mode, ac.Provider, ac.Prompt, ac.InitialBalance)
		agent.Paused = ac.Paused
	} else {
		// 配置字段以当前配置为准，账本字段保留
		agent.Name = ac.Name
		agent.Mode = ac.Mode
		agent.ProviderKind = ac.Provider
		agent.Prompt = ac.Prompt
		log.Printf("📦 已恢复Agent '%s' 账本（%d个持仓，%d条交易记录）",
			ac.ID, len(agent.Portfolio.Positions), len(agent.Orders))
	}

	var executor trader.Executor
	if ac.Mode == trader.ModeLive {
		venue, err := trader.NewAsterVenue(ac.AsterUser, ac.AsterSigner, ac.AsterPrivateKey)
		if err != nil {
			return err
		}
		m.venues[ac.ID] = venue
		executor = trader.NewLiveExecutor(venue, m.precision, m.cfg.MinPositionSizeUSD, m.cfg.CooldownWindow())

		// 精度元数据只需同步一次，与定时器赛跑，超时回落默认值
		if !*precisionSynced {
			m.syncPrecisions(venue)
			*precisionSynced = true
		}
	} else {
		executor = trader.NewSimulatedExecutor(m.cfg.FeeRate, m.cfg.CooldownWindow())
	}

	m.agents[ac.ID] = agent
	m.agentOrder = append(m.agentOrder, ac.ID)
	m.agentCfgs[ac.ID] = ac
	m.providers[ac.ID] = provider
	m.executors[ac.ID] = executor
	log.Printf("✓ Agent '%s' (%s, %s) 已装配", ac.Name, ac.Provider, ac.Mode)
	return nil
}

// syncPrecisions 拉取交易所数量精度，超时回落默认精度
func (m *Manager) syncPrecisions(venue trader.Venue) {
	type result struct {
		precisions map[string]int
		err        error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := venue.GetSymbolPrecisions()
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			log.Printf("⚠️ 拉取精度元数据失败，使用默认精度: %v", r.err)
			return
		}
		m.precision.Update(r.precisions)
		log.Printf("✓ 已同步 %d 个币种的数量精度", len(r.precisions))
	case <-time.After(precisionSyncTimeout):
		log.Printf("⚠️ 拉取精度元数据超时（%v），使用默认精度", precisionSyncTimeout)
	}
}

// Start 启动调度
func (m *Manager) Start() {
	// 实盘Agent先做一次初始对账，让引擎从交易所真实状态出发
	for _, id := range m.agentOrder {
		if a := m.agents[id]; a.Mode == trader.ModeLive {
			m.refreshLive(a)
		}
	}
	m.sched.Start()
}

// Stop 停止调度并落盘全部账本
func (m *Manager) Stop() {
	m.sched.Stop()
	for _, id := range m.agentOrder {
		a := m.agents[id]
		a.Lock()
		if err := m.states.Save(a); err != nil {
			log.Printf("⚠️ 停机落盘Agent '%s' 失败: %v", id, err)
		}
		a.Unlock()
	}
}

// Scheduler 调度器句柄（供API控制面使用）
func (m *Manager) Scheduler() *scheduler.Scheduler {
	return m.sched
}

// runTurnCycle 一次决策周期：拉取行情后对全部Agent严格串行走完决策管线。
// 单个Agent的失败记录为回合注记，绝不影响其他Agent。
func (m *Manager) runTurnCycle() {
	cycle := atomic.AddInt64(&m.cycleCount, 1)
	log.Printf("⏰ 决策周期 #%d 开始", cycle)

	snapshot, err := m.feed.Snapshot()
	if err != nil {
		log.Printf("❌ 决策周期 #%d: 拉取行情失败，本轮跳过: %v", cycle, err)
		return
	}
	prices := market.Prices(snapshot)
	tickers := sortedTickers(snapshot)

	for _, id := range m.agentOrder {
		a := m.agents[id]

		a.Lock()
		paused := a.Paused
		a.Unlock()
		if paused {
			continue
		}

		m.runAgentTurn(a, cycle, tickers, prices)
	}
	log.Printf("✓ 决策周期 #%d 完成", cycle)
}

// runAgentTurn 单个Agent的完整决策回合：
// 决策源提案 -> 校验管线 -> 执行引擎 -> 回合记录
func (m *Manager) runAgentTurn(a *trader.Agent, cycle int64, tickers []market.Ticker, prices map[string]float64) {
	now := time.Now()

	// 在锁内收集决策上下文快照，外部调用（AI推理）不持锁
	a.Lock()
	ctx := &decision.Context{
		AgentName:      a.Name,
		AgentPrompt:    a.Prompt,
		Balance:        a.Portfolio.Balance,
		TotalValue:     a.Portfolio.TotalValue,
		UnrealizedPnL:  a.Portfolio.UnrealizedPnL,
		RealizedPnL:    a.RealizedPnL,
		InitialBalance: a.InitialBalance,
		Market:         tickers,
		MinSize:        m.cfg.MinPositionSizeUSD,
		MaxLeverage: trader.LeverageCaps{
			BTCETH:  m.cfg.Leverage.BTCETHLeverage,
			Altcoin: m.cfg.Leverage.AltcoinLeverage,
		},
	}
	for _, pos := range a.Portfolio.Positions {
		ctx.Positions = append(ctx.Positions, *pos)
	}
	a.Unlock()

	proposal, err := m.providers[a.ID].Propose(ctx)
	if err != nil {
		// 决策源失败：该Agent本回合按HOLD处理
		log.Printf("⚠️ [%s] 决策源失败，本回合持仓不动: %v", a.Name, err)
		m.recordTurn(a, logger.TurnRecord{
			Timestamp:    now,
			Cycle:        cycle,
			Notes:        []string{fmt.Sprintf("⚠️ 决策源失败，本回合按HOLD处理: %v", err)},
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return
	}

	decisionsJSON, _ := json.Marshal(proposal.Decisions)

	a.Lock()
	defer a.Unlock()

	rules := trader.Rules{
		MinSize: m.cfg.MinPositionSizeUSD,
		Leverage: trader.LeverageCaps{
			BTCETH:  m.cfg.Leverage.BTCETHLeverage,
			Altcoin: m.cfg.Leverage.AltcoinLeverage,
		},
	}
	accepted, notes := trader.ValidateDecisions(proposal.Decisions, a.Cooldowns, rules, now)
	notes = append(notes, m.executors[a.ID].Execute(a, accepted, prices)...)

	// 实盘交易后立即对账，不等下一个刷新tick
	if a.Mode == trader.ModeLive && len(accepted) > 0 {
		m.reconcileLiveLocked(a)
	}

	m.recordTurnLocked(a, logger.TurnRecord{
		Timestamp:     now,
		Cycle:         cycle,
		Prompt:        proposal.Prompt,
		DecisionsJSON: string(decisionsJSON),
		Notes:         notes,
		Success:       true,
	})
}

// recordTurn 追加回合记录并落盘（自行加锁）
func (m *Manager) recordTurn(a *trader.Agent, rec logger.TurnRecord) {
	a.Lock()
	defer a.Unlock()
	m.recordTurnLocked(a, rec)
}

// recordTurnLocked 追加回合记录并落盘（调用方已持有Agent锁）
func (m *Manager) recordTurnLocked(a *trader.Agent, rec logger.TurnRecord) {
	a.AppendTurnLog(rec)
	if err := m.turns.Save(a.ID, rec); err != nil {
		log.Printf("⚠️ [%s] 回合记录落盘失败: %v", a.Name, err)
	}
	if err := m.states.Save(a); err != nil {
		log.Printf("⚠️ [%s] 账本落盘失败: %v", a.Name, err)
	}
}

// sortedTickers 行情按币种排序，保证prompt内容稳定
func sortedTickers(snapshot map[string]market.Ticker) []market.Ticker {
	tickers := make([]market.Ticker, 0, len(snapshot))
	for _, t := range snapshot {
		tickers = append(tickers, t)
	}
	sort.Slice(tickers, func(i, j int) bool { return tickers[i].Symbol < tickers[j].Symbol })
	return tickers
}
