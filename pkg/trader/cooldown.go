package trader

import (
	"strings"
	"time"
)

// CooldownTracker 按币种记录冷却到期时间。
// 只在平仓成功时写入，只在校验新的方向性决策时读取，
// 到期检查是惰性的（now < expiry），不做主动清理。
type CooldownTracker struct {
	Until map[string]time.Time `json:"until"` // symbol -> 到期时间
}

// NewCooldownTracker 创建空的冷却跟踪器
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{Until: make(map[string]time.Time)}
}

// Start 记录一次冷却，到期时间 = now + window
func (c *CooldownTracker) Start(symbol string, window time.Duration, now time.Time) {
	if c.Until == nil {
		c.Until = make(map[string]time.Time)
	}
	c.Until[strings.ToUpper(symbol)] = now.Add(window)
}

// Remaining 返回该币种剩余冷却时间；未在冷却中返回 (0, false)
func (c *CooldownTracker) Remaining(symbol string, now time.Time) (time.Duration, bool) {
	if c == nil || c.Until == nil {
		return 0, false
	}
	expiry, ok := c.Until[strings.ToUpper(symbol)]
	if !ok || !now.Before(expiry) {
		return 0, false
	}
	return expiry.Sub(now), true
}
