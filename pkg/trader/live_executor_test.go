package trader

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeVenue 记录所有下单调用，可按订单类型注入失败
type fakeVenue struct {
	balance     float64
	orders      []OrderSpec
	leverages   map[string]int
	failTypes   map[string]error // Type -> 注入的错误
	accountErr  error
	leverageErr error
	nextOrderID int64
}

func newFakeVenue(balance float64) *fakeVenue {
	return &fakeVenue{
		balance:     balance,
		leverages:   make(map[string]int),
		failTypes:   make(map[string]error),
		nextOrderID: 1000,
	}
}

func (v *fakeVenue) GetAccountState(agentID string) (*Portfolio, error) {
	if v.accountErr != nil {
		return nil, v.accountErr
	}
	p := NewPortfolio(v.balance)
	return &p, nil
}

func (v *fakeVenue) GetTradeHistory(agentID string) ([]Order, error) { return nil, nil }

func (v *fakeVenue) SetLeverage(symbol string, leverage int, agentID string) error {
	if v.leverageErr != nil {
		return v.leverageErr
	}
	v.leverages[symbol] = leverage
	return nil
}

func (v *fakeVenue) PlaceOrder(spec OrderSpec, agentID string) (*OrderResult, error) {
	if err, ok := v.failTypes[spec.Type]; ok {
		return nil, err
	}
	v.orders = append(v.orders, spec)
	v.nextOrderID++
	return &OrderResult{OrderID: v.nextOrderID, Status: "FILLED"}, nil
}

func (v *fakeVenue) GetSymbolPrecisions() (map[string]int, error) {
	return map[string]int{"BTCUSDT": 3, "ETHUSDT": 2}, nil
}

func newLiveTestExecutor(venue *fakeVenue) *LiveExecutor {
	precision := NewPrecisionTable(-1)
	precision.Update(map[string]int{"BTCUSDT": 3, "ETHUSDT": 2})
	return NewLiveExecutor(venue, precision, 50, 30*time.Minute)
}

func liveTestAgent() *Agent {
	return NewAgent("live-1", "实盘测试", ModeLive, "qwen", "", 0)
}

// 可用余额低于最小下单额：整单拒绝，不做调整，不触达交易所
func TestLiveExecutor_RejectBelowMinBalance(t *testing.T) {
	venue := newFakeVenue(30)
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	notes := e.Execute(a, []ValidatedDecision{openValidated("BTCUSDT", 100, 2)},
		map[string]float64{"BTCUSDT": 50000})

	if len(notes) != 1 || !strings.Contains(notes[0], "低于最小下单额") {
		t.Fatalf("notes = %v", notes)
	}
	if len(venue.orders) != 0 {
		t.Error("拒绝的决策不应提交任何订单")
	}
	if len(venue.leverages) != 0 {
		t.Error("拒绝的决策不应设置杠杆")
	}
}

// 仓位超出可用余额：下调到可用余额，记录调整，继续执行
func TestLiveExecutor_ClampToAvailable(t *testing.T) {
	venue := newFakeVenue(80)
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	notes := e.Execute(a, []ValidatedDecision{openValidated("ETHUSDT", 100, 2)},
		map[string]float64{"ETHUSDT": 2000})

	var adjusted, opened bool
	for _, n := range notes {
		if strings.Contains(n, "调整为可用余额 80.00") {
			adjusted = true
		}
		if strings.Contains(n, "开仓成功") {
			opened = true
		}
	}
	if !adjusted || !opened {
		t.Fatalf("应记录调整并继续开仓, notes = %v", notes)
	}
	if len(venue.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(venue.orders))
	}
	// 80*2/2000 = 0.08 截断到两位小数
	if venue.orders[0].Quantity != 0.08 {
		t.Errorf("quantity = %v, want 0.08", venue.orders[0].Quantity)
	}
	if venue.leverages["ETHUSDT"] != 2 {
		t.Errorf("leverage = %d, want 2", venue.leverages["ETHUSDT"])
	}
}

// 截断后数量为0：放弃本决策，不下单
func TestLiveExecutor_ZeroQuantityAbort(t *testing.T) {
	venue := newFakeVenue(1000)
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	// 50*1/100000 = 0.0005 → 三位精度截断为0
	notes := e.Execute(a, []ValidatedDecision{openValidated("BTCUSDT", 50, 1)},
		map[string]float64{"BTCUSDT": 100000})

	found := false
	for _, n := range notes {
		if strings.Contains(n, "截断后数量为0") {
			found = true
		}
	}
	if !found {
		t.Fatalf("notes = %v", notes)
	}
	if len(venue.orders) != 0 {
		t.Error("数量为0不应下单")
	}
}

// 保护性条件单失败：独立记录，不回滚已成交的开仓单
func TestLiveExecutor_ProtectiveLegFailureNoRollback(t *testing.T) {
	venue := newFakeVenue(1000)
	venue.failTypes["STOP_MARKET"] = errors.New("exchange rejected")
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	d := Decision{Action: ActionLong, Symbol: "BTCUSDT", Size: 500, Leverage: 10,
		StopLoss: 48000, TakeProfit: 60000}
	notes := e.Execute(a, []ValidatedDecision{{Decision: d, Leverage: 10}},
		map[string]float64{"BTCUSDT": 50000})

	var opened, slFailed, tpOK bool
	for _, n := range notes {
		if strings.Contains(n, "开仓成功") {
			opened = true
		}
		if strings.Contains(n, "止损单设置失败") && strings.Contains(n, "不回滚") {
			slFailed = true
		}
		if strings.Contains(n, "止盈单已设置") {
			tpOK = true
		}
	}
	if !opened || !slFailed || !tpOK {
		t.Fatalf("notes = %v", notes)
	}

	// 开仓市价单 + 止盈条件单（止损失败未记入）
	if len(venue.orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(venue.orders))
	}
	if venue.orders[0].Type != "MARKET" || venue.orders[0].ReduceOnly {
		t.Errorf("首单应为非只减仓市价单, got %+v", venue.orders[0])
	}
	tp := venue.orders[1]
	if tp.Type != "TAKE_PROFIT_MARKET" || !tp.ReduceOnly || tp.Side != "SELL" || tp.StopPrice != 60000 {
		t.Errorf("止盈单 = %+v", tp)
	}
}

// 设置杠杆失败：终止当前决策，不下单，后续决策继续执行
func TestLiveExecutor_SetLeverageFailureStopsDecision(t *testing.T) {
	venue := newFakeVenue(1000)
	venue.leverageErr = errors.New("leverage not allowed")
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	notes := e.Execute(a, []ValidatedDecision{openValidated("BTCUSDT", 100, 5)},
		map[string]float64{"BTCUSDT": 50000})

	if len(notes) != 1 || !strings.Contains(notes[0], "设置杠杆失败") {
		t.Fatalf("notes = %v", notes)
	}
	if len(venue.orders) != 0 {
		t.Error("杠杆失败后不应下单")
	}
}

func TestLiveExecutor_ClosePosition(t *testing.T) {
	venue := newFakeVenue(1000)
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	pos := &Position{
		ID:         "BTCUSDT-short",
		Symbol:     "BTCUSDT",
		Side:       SideShort,
		EntryPrice: 50000,
		Size:       500,
		Leverage:   10,
	}
	a.Portfolio.Positions[pos.ID] = pos

	notes := e.Execute(a, []ValidatedDecision{{
		Decision: Decision{Action: ActionClose, Symbol: "BTCUSDT", CloseTargetID: pos.ID},
	}}, nil)

	if len(notes) != 1 || !strings.HasPrefix(notes[0], "✓") {
		t.Fatalf("notes = %v", notes)
	}
	if len(venue.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(venue.orders))
	}
	order := venue.orders[0]
	// 平空头 → 买入只减仓市价单
	if order.Side != "BUY" || !order.ReduceOnly || order.Type != "MARKET" {
		t.Errorf("平仓单 = %+v", order)
	}
	// 500*10/50000 = 0.1
	if order.Quantity != 0.1 {
		t.Errorf("quantity = %v, want 0.1", order.Quantity)
	}
	if _, active := a.Cooldowns.Remaining("BTCUSDT", time.Now()); !active {
		t.Error("实盘平仓成功后应启动冷却")
	}
}

func TestLiveExecutor_CloseMissingPositionBenign(t *testing.T) {
	venue := newFakeVenue(1000)
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	notes := e.Execute(a, []ValidatedDecision{{
		Decision: Decision{Action: ActionClose, Symbol: "ETHUSDT", CloseTargetID: "gone"},
	}}, nil)

	if len(notes) != 1 || !strings.Contains(notes[0], "目标持仓不存在") {
		t.Fatalf("notes = %v", notes)
	}
	if len(venue.orders) != 0 {
		t.Error("良性跳过不应触达交易所")
	}
	if _, active := a.Cooldowns.Remaining("ETHUSDT", time.Now()); active {
		t.Error("跳过的平仓不应启动冷却")
	}
}

// 平仓下单失败：报错注记，持仓保留，不启动冷却
func TestLiveExecutor_CloseOrderFailure(t *testing.T) {
	venue := newFakeVenue(1000)
	venue.failTypes["MARKET"] = fmt.Errorf("insufficient margin")
	e := newLiveTestExecutor(venue)
	a := liveTestAgent()

	pos := &Position{ID: "p1", Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 50000, Size: 500, Leverage: 10}
	a.Portfolio.Positions[pos.ID] = pos

	notes := e.Execute(a, []ValidatedDecision{{
		Decision: Decision{Action: ActionClose, CloseTargetID: "p1"},
	}}, nil)

	if len(notes) != 1 || !strings.Contains(notes[0], "平仓失败") {
		t.Fatalf("notes = %v", notes)
	}
	if _, active := a.Cooldowns.Remaining("BTCUSDT", time.Now()); active {
		t.Error("失败的平仓不应启动冷却")
	}
}
