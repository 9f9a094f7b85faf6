package storage

import (
	"testing"
	"time"

	"backend/pkg/db"
	"backend/pkg/logger"
	"backend/pkg/trader"
)

func newTestDB(t *testing.T) *db.Manager {
	t.Helper()
	m, err := db.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestStateStorage_SaveLoadRoundTrip(t *testing.T) {
	states, err := NewStateStorage(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	a := trader.NewAgent("alpha", "阿尔法", trader.ModeSimulated, "deepseek", "激进", 1000)
	a.Portfolio.Balance = 850
	a.Portfolio.Positions["p1"] = &trader.Position{
		ID: "p1", Symbol: "BTCUSDT", Side: trader.SideLong,
		EntryPrice: 50000, Size: 150, Leverage: 10,
	}
	a.Cooldowns.Start("ETHUSDT", 30*time.Minute, time.Now())
	a.RecordClose(42.5)

	if err := states.Save(a); err != nil {
		t.Fatal(err)
	}

	loaded, err := states.Load("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("应加载到已保存的Agent")
	}
	if loaded.Name != "阿尔法" || loaded.Portfolio.Balance != 850 {
		t.Errorf("loaded = %+v", loaded)
	}
	pos, ok := loaded.Portfolio.Positions["p1"]
	if !ok || pos.Symbol != "BTCUSDT" || pos.Leverage != 10 {
		t.Errorf("position = %+v", pos)
	}
	if _, active := loaded.Cooldowns.Remaining("ETHUSDT", time.Now()); !active {
		t.Error("冷却状态应随账本一起恢复")
	}
	if loaded.RealizedPnL != 42.5 || loaded.TradeCount != 1 {
		t.Errorf("统计未恢复: %+v", loaded)
	}
}

func TestStateStorage_SaveOverwrites(t *testing.T) {
	states, err := NewStateStorage(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	a := trader.NewAgent("alpha", "A", trader.ModeSimulated, "deepseek", "", 1000)
	if err := states.Save(a); err != nil {
		t.Fatal(err)
	}
	a.Portfolio.Balance = 500
	if err := states.Save(a); err != nil {
		t.Fatal(err)
	}

	loaded, err := states.Load("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Portfolio.Balance != 500 {
		t.Errorf("balance = %v, want 500", loaded.Portfolio.Balance)
	}
}

func TestStateStorage_LoadMissingReturnsNil(t *testing.T) {
	states, err := NewStateStorage(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := states.Load("ghost")
	if err != nil {
		t.Fatalf("不存在的Agent不应报错: %v", err)
	}
	if loaded != nil {
		t.Errorf("loaded = %+v, want nil", loaded)
	}
}

func TestStateStorage_Delete(t *testing.T) {
	states, err := NewStateStorage(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	a := trader.NewAgent("alpha", "A", trader.ModeSimulated, "deepseek", "", 1000)
	if err := states.Save(a); err != nil {
		t.Fatal(err)
	}
	if err := states.Delete("alpha"); err != nil {
		t.Fatal(err)
	}
	if loaded, _ := states.Load("alpha"); loaded != nil {
		t.Error("删除后不应再加载到状态")
	}
}

func TestTurnStorage_SaveAndRecent(t *testing.T) {
	turns, err := NewTurnStorage(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := logger.TurnRecord{
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Cycle:         int64(i + 1),
			Prompt:        "prompt",
			DecisionsJSON: `[]`,
			Notes:         []string{"note"},
			Success:       i%2 == 0,
		}
		if err := turns.Save("alpha", rec); err != nil {
			t.Fatal(err)
		}
	}
	// 其他Agent的记录不应串台
	if err := turns.Save("beta", logger.TurnRecord{Timestamp: base, Cycle: 99, Success: true}); err != nil {
		t.Fatal(err)
	}

	records, err := turns.Recent("alpha", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	// 时间倒序：最新的在最前
	if records[0].Cycle != 5 || records[1].Cycle != 4 || records[2].Cycle != 3 {
		t.Errorf("排序错误: %d %d %d", records[0].Cycle, records[1].Cycle, records[2].Cycle)
	}
	if len(records[0].Notes) != 1 || records[0].Notes[0] != "note" {
		t.Errorf("notes = %v", records[0].Notes)
	}
	if records[0].Success != true {
		t.Errorf("cycle 5 success = %v", records[0].Success)
	}
}

func TestTurnStorage_DeleteByAgent(t *testing.T) {
	turns, err := NewTurnStorage(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	_ = turns.Save("alpha", logger.TurnRecord{Timestamp: now, Cycle: 1, Success: true})
	_ = turns.Save("beta", logger.TurnRecord{Timestamp: now, Cycle: 1, Success: true})

	if err := turns.DeleteByAgent("alpha"); err != nil {
		t.Fatal(err)
	}
	if records, _ := turns.Recent("alpha", 10); len(records) != 0 {
		t.Errorf("alpha记录应被清空, got %d", len(records))
	}
	if records, _ := turns.Recent("beta", 10); len(records) != 1 {
		t.Errorf("beta记录不应受影响, got %d", len(records))
	}
}
