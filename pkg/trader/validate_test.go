package trader

import (
	"strings"
	"testing"
	"time"
)

func testRules() Rules {
	return Rules{
		MinSize:  50,
		Leverage: LeverageCaps{BTCETH: 20, Altcoin: 10},
	}
}

func TestValidateDecisions_MinSize(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		decision   Decision
		wantPass   bool
		wantNote   bool
	}{
		{"below minimum long", Decision{Action: ActionLong, Symbol: "BTCUSDT", Size: 30, Leverage: 5}, false, true},
		{"below minimum short", Decision{Action: ActionShort, Symbol: "ETHUSDT", Size: 49.99, Leverage: 5}, false, true},
		{"at minimum", Decision{Action: ActionLong, Symbol: "BTCUSDT", Size: 50, Leverage: 5}, true, false},
		{"above minimum", Decision{Action: ActionShort, Symbol: "SOLUSDT", Size: 100, Leverage: 5}, true, false},
		{"close bypasses min size", Decision{Action: ActionClose, Symbol: "BTCUSDT", Size: 0, CloseTargetID: "p1"}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accepted, notes := ValidateDecisions([]Decision{tt.decision}, NewCooldownTracker(), testRules(), now)
			if (len(accepted) == 1) != tt.wantPass {
				t.Errorf("accepted = %d, wantPass %v", len(accepted), tt.wantPass)
			}
			if (len(notes) > 0) != tt.wantNote {
				t.Errorf("notes = %v, wantNote %v", notes, tt.wantNote)
			}
		})
	}
}

func TestValidateDecisions_Cooldown(t *testing.T) {
	now := time.Now()

	// 30分钟冷却，10分钟后再开仓应被拒绝，31分钟后应通过
	cooldowns := NewCooldownTracker()
	cooldowns.Start("BTCUSDT", 30*time.Minute, now)

	open := Decision{Action: ActionLong, Symbol: "BTCUSDT", Size: 100, Leverage: 5}

	accepted, notes := ValidateDecisions([]Decision{open}, cooldowns, testRules(), now.Add(10*time.Minute))
	if len(accepted) != 0 {
		t.Fatalf("冷却期内的开仓应被拒绝, accepted = %d", len(accepted))
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "冷却") {
		t.Errorf("冷却拒绝应记录剩余时间注记, notes = %v", notes)
	}

	accepted, _ = ValidateDecisions([]Decision{open}, cooldowns, testRules(), now.Add(31*time.Minute))
	if len(accepted) != 1 {
		t.Fatalf("冷却到期后的开仓应通过, accepted = %d", len(accepted))
	}

	// 冷却不影响CLOSE
	closeDec := Decision{Action: ActionClose, Symbol: "BTCUSDT", CloseTargetID: "p1"}
	accepted, _ = ValidateDecisions([]Decision{closeDec}, cooldowns, testRules(), now.Add(10*time.Minute))
	if len(accepted) != 1 {
		t.Errorf("冷却不应拦截CLOSE决策, accepted = %d", len(accepted))
	}
}

func TestValidateDecisions_LeverageClamp(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name         string
		symbol       string
		leverage     int
		wantLeverage int
		wantNote     bool
	}{
		{"btc over cap", "BTCUSDT", 50, 20, true},
		{"eth at cap", "ETHUSDT", 20, 20, false},
		{"altcoin over cap", "SOLUSDT", 25, 10, true},
		{"altcoin under cap", "DOGEUSDT", 5, 5, false},
		{"zero leverage normalized", "BTCUSDT", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decision{Action: ActionLong, Symbol: tt.symbol, Size: 100, Leverage: tt.leverage}
			accepted, notes := ValidateDecisions([]Decision{d}, NewCooldownTracker(), testRules(), now)
			if len(accepted) != 1 {
				t.Fatalf("杠杆超限只调整不拒绝, accepted = %d", len(accepted))
			}
			if accepted[0].Leverage != tt.wantLeverage {
				t.Errorf("leverage = %d, want %d", accepted[0].Leverage, tt.wantLeverage)
			}
			if (len(notes) > 0) != tt.wantNote {
				t.Errorf("notes = %v, wantNote %v", notes, tt.wantNote)
			}
		})
	}
}

func TestValidateDecisions_PreservesOrder(t *testing.T) {
	now := time.Now()
	decisions := []Decision{
		{Action: ActionLong, Symbol: "BTCUSDT", Size: 100, Leverage: 5},
		{Action: ActionShort, Symbol: "ETHUSDT", Size: 10, Leverage: 5}, // 被拒绝
		{Action: ActionClose, Symbol: "SOLUSDT", CloseTargetID: "p1"},
		{Action: ActionShort, Symbol: "DOGEUSDT", Size: 80, Leverage: 50}, // 杠杆被钳制
	}

	accepted, notes := ValidateDecisions(decisions, NewCooldownTracker(), testRules(), now)
	if len(accepted) != 3 {
		t.Fatalf("accepted = %d, want 3", len(accepted))
	}
	wantOrder := []string{"BTCUSDT", "SOLUSDT", "DOGEUSDT"}
	for i, want := range wantOrder {
		if accepted[i].Decision.Symbol != want {
			t.Errorf("accepted[%d].Symbol = %s, want %s", i, accepted[i].Decision.Symbol, want)
		}
	}
	if len(notes) != 2 {
		t.Errorf("应有1条拒绝注记+1条调整注记, notes = %v", notes)
	}
}
