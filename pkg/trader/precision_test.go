package trader

import (
	"math"
	"testing"
	"time"
)

func TestPrecisionTable_Truncate(t *testing.T) {
	table := NewPrecisionTable(-1)
	table.Update(map[string]int{
		"BTCUSDT": 3,
		"ETHUSDT": 2,
		"XRPUSDT": 0,
	})

	tests := []struct {
		name     string
		symbol   string
		quantity float64
		want     float64
	}{
		{"btc three digits", "BTCUSDT", 0.123456, 0.123},
		{"eth two digits", "ETHUSDT", 1.999, 1.99},
		{"whole coin only", "XRPUSDT", 41.7, 41},
		{"exact boundary unchanged", "BTCUSDT", 0.5, 0.5},
		{"unknown symbol default digits", "DOGEUSDT", 7.77777, 7.777},
		{"case insensitive lookup", "ethusdt", 1.239, 1.23},
		{"truncates below minimum step to zero", "XRPUSDT", 0.9, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Truncate(tt.symbol, tt.quantity)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Truncate(%s, %v) = %v, want %v", tt.symbol, tt.quantity, got, tt.want)
			}
			if got > tt.quantity {
				t.Errorf("截断绝不向上取整: got %v > input %v", got, tt.quantity)
			}
		})
	}
}

func TestPrecisionTable_UpdateIgnoresNegative(t *testing.T) {
	table := NewPrecisionTable(3)
	table.Update(map[string]int{"BTCUSDT": -1})
	if d := table.DigitsFor("BTCUSDT"); d != 3 {
		t.Errorf("负精度应被忽略, DigitsFor = %d, want 3", d)
	}
}

func TestCooldownTracker_LazyExpiry(t *testing.T) {
	now := time.Now()
	c := NewCooldownTracker()
	c.Start("btcusdt", 30*time.Minute, now)

	if _, active := c.Remaining("BTCUSDT", now.Add(29*time.Minute)); !active {
		t.Error("未到期时应处于冷却中")
	}
	if remaining, _ := c.Remaining("BTCUSDT", now.Add(10*time.Minute)); remaining != 20*time.Minute {
		t.Errorf("remaining = %v, want 20m", remaining)
	}
	if _, active := c.Remaining("BTCUSDT", now.Add(30*time.Minute)); active {
		t.Error("到期后不应处于冷却中")
	}
	if _, active := c.Remaining("ETHUSDT", now); active {
		t.Error("未记录的币种不应处于冷却中")
	}
}
