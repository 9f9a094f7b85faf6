package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_TicksBothCycles(t *testing.T) {
	var refreshes, turns int32
	s := New(10*time.Millisecond, 25*time.Millisecond,
		func() { atomic.AddInt32(&refreshes, 1) },
		func() { atomic.AddInt32(&turns, 1) })

	s.Start()
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&refreshes) == 0 {
		t.Error("刷新周期未被触发")
	}
	if atomic.LoadInt32(&turns) == 0 {
		t.Error("决策周期未被触发")
	}
	if atomic.LoadInt32(&refreshes) <= atomic.LoadInt32(&turns) {
		t.Errorf("短周期触发次数应多于长周期: refreshes=%d turns=%d",
			atomic.LoadInt32(&refreshes), atomic.LoadInt32(&turns))
	}
}

// 上一次tick未结束时跳过本次tick，绝不并发执行同一周期
func TestScheduler_SkipWhileBusy(t *testing.T) {
	var started int32
	block := make(chan struct{})

	s := New(time.Hour, 10*time.Millisecond,
		func() {},
		func() {
			atomic.AddInt32(&started, 1)
			<-block
		})

	s.Start()
	time.Sleep(100 * time.Millisecond)

	if n := atomic.LoadInt32(&started); n != 1 {
		t.Errorf("阻塞期间同一周期只应启动一次, started = %d", n)
	}

	close(block)
	s.Stop()
}

func TestScheduler_PauseResume(t *testing.T) {
	var turns int32
	s := New(time.Hour, 10*time.Millisecond,
		func() {},
		func() { atomic.AddInt32(&turns, 1) })

	s.Pause()
	if !s.IsPaused() {
		t.Fatal("IsPaused应为true")
	}
	s.Start()
	time.Sleep(60 * time.Millisecond)
	if n := atomic.LoadInt32(&turns); n != 0 {
		t.Errorf("暂停期间不应触发tick, turns = %d", n)
	}

	s.Resume()
	if s.IsPaused() {
		t.Fatal("IsPaused应为false")
	}
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&turns) == 0 {
		t.Error("恢复后应继续触发tick")
	}
	s.Stop()
}

// Stop等待在途tick完成后才返回
func TestScheduler_StopWaitsForInflight(t *testing.T) {
	var finished int32
	s := New(time.Hour, 10*time.Millisecond,
		func() {},
		func() {
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt32(&finished, 1)
		})

	s.Start()
	time.Sleep(20 * time.Millisecond) // 等第一个tick进入执行
	s.Stop()

	if atomic.LoadInt32(&finished) != 1 {
		t.Error("Stop返回时在途tick应已完成")
	}
}

func TestScheduler_StartIdempotent(t *testing.T) {
	var turns int32
	s := New(time.Hour, 10*time.Millisecond,
		func() {},
		func() { atomic.AddInt32(&turns, 1) })

	s.Start()
	s.Start() // 二次Start应为空操作
	time.Sleep(35 * time.Millisecond)
	s.Stop()

	// 若重复启动了第二个循环，计数会接近翻倍
	if n := atomic.LoadInt32(&turns); n > 4 {
		t.Errorf("疑似重复启动循环, turns = %d", n)
	}
}
