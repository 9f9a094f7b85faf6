package trader

import (
	"math"
	"strings"
	"sync"
)

// DefaultQuantityPrecision 未知币种的默认数量精度（小数位）
const DefaultQuantityPrecision = 3

// PrecisionTable 币种 -> 下单数量精度（小数位）的查找表。
// 数量只向零截断，绝不向上取整，避免请求超出预期的名义价值。
type PrecisionTable struct {
	mu      sync.RWMutex
	digits  map[string]int
	defBits int
}

// NewPrecisionTable 创建精度表，defaultDigits<0 时使用内置默认值
func NewPrecisionTable(defaultDigits int) *PrecisionTable {
	if defaultDigits < 0 {
		defaultDigits = DefaultQuantityPrecision
	}
	return &PrecisionTable{
		digits:  make(map[string]int),
		defBits: defaultDigits,
	}
}

// Update 批量更新精度（来自交易所exchangeInfo）
func (t *PrecisionTable) Update(precisions map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for symbol, d := range precisions {
		if d < 0 {
			continue
		}
		t.digits[strings.ToUpper(symbol)] = d
	}
}

// DigitsFor 查询币种精度，未知币种返回默认精度
func (t *PrecisionTable) DigitsFor(symbol string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if d, ok := t.digits[strings.ToUpper(symbol)]; ok {
		return d
	}
	return t.defBits
}

// Truncate 按币种精度向零截断数量
func (t *PrecisionTable) Truncate(symbol string, quantity float64) float64 {
	pow := math.Pow10(t.DigitsFor(symbol))
	return math.Trunc(quantity*pow) / pow
}
