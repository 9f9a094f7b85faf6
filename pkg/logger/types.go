package logger

import "time"

// TurnRecord 单个Agent一次决策回合的完整记录
type TurnRecord struct {
	Timestamp     time.Time `json:"timestamp"`      // 回合时间
	Cycle         int64     `json:"cycle"`          // 回合编号
	Prompt        string    `json:"prompt"`         // 发送给决策源的完整prompt
	DecisionsJSON string    `json:"decisions_json"` // 原始决策列表（JSON）
	Notes         []string  `json:"notes"`          // 按顺序记录的执行注记（拒绝/调整/成功/错误）
	Success       bool      `json:"success"`        // 回合是否成功完成
	ErrorMessage  string    `json:"error_message"`  // 错误信息（如果有）
}

// ValuePoint 账户总值时间序列中的一个采样点
type ValuePoint struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalValue float64   `json:"total_value"`
}
