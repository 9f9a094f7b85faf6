package trader

// Executor 执行引擎的统一契约：对通过校验的决策逐个执行，
// 直接（模拟）或间接（实盘）变更账本，返回按顺序的执行注记。
// 单个决策的失败只记录注记，不中断同一回合中后续决策的执行。
type Executor interface {
	Execute(a *Agent, decisions []ValidatedDecision, prices map[string]float64) []string
}
