package scheduler

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler 驱动两个独立的重复周期：
//   - 刷新周期（短周期）：所有Agent的组合对账；
//   - 决策周期（长周期）：所有Agent的完整决策管线。
//
// 显式的Start/Stop生命周期取代游离的定时器句柄。
// 每个周期带in-flight保护：上一次tick未结束时，本次tick直接跳过，
// 绝不并发启动第二个同类周期。全局暂停只阻止新tick的调度，
// 不打断已经在执行的工作。
type Scheduler struct {
	refreshInterval time.Duration
	turnInterval    time.Duration
	refreshFn       func()
	turnFn          func()

	paused      int32 // 1=全局暂停
	refreshBusy int32
	turnBusy    int32

	running  int32
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 创建调度器
func New(refreshInterval, turnInterval time.Duration, refreshFn, turnFn func()) *Scheduler {
	return &Scheduler{
		refreshInterval: refreshInterval,
		turnInterval:    turnInterval,
		refreshFn:       refreshFn,
		turnFn:          turnFn,
		stopChan:        make(chan struct{}),
	}
}

// Start 启动两个周期
func (s *Scheduler) Start() {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	log.Printf("🚀 调度器启动（刷新周期 %v，决策周期 %v）", s.refreshInterval, s.turnInterval)

	s.wg.Add(2)
	go s.loop(s.refreshInterval, s.refreshFn, &s.refreshBusy)
	go s.loop(s.turnInterval, s.turnFn, &s.turnBusy)
}

// loop 单个周期的tick循环
func (s *Scheduler) loop(interval time.Duration, fn func(), busy *int32) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if atomic.LoadInt32(&s.paused) == 1 {
				continue
			}
			// 上一次还在执行时跳过本次tick
			if !atomic.CompareAndSwapInt32(busy, 0, 1) {
				log.Printf("⏭ 上一周期仍在执行，跳过本次tick")
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer atomic.StoreInt32(busy, 0)
				fn()
			}()
		}
	}
}

// Stop 停止调度，等待在途tick完成
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	atomic.StoreInt32(&s.running, 0)
	log.Println("⏹ 调度器已停止")
}

// Pause 全局暂停：两个周期都不再调度新tick
func (s *Scheduler) Pause() {
	atomic.StoreInt32(&s.paused, 1)
	log.Println("⏸ 调度器全局暂停")
}

// Resume 恢复调度
func (s *Scheduler) Resume() {
	atomic.StoreInt32(&s.paused, 0)
	log.Println("▶️ 调度器恢复运行")
}

// IsPaused 是否处于全局暂停
func (s *Scheduler) IsPaused() bool {
	return atomic.LoadInt32(&s.paused) == 1
}
