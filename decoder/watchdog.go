// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"sync"
	"time"

	"github.com/cnotch/scheduler"
)

// DefaultWatchdogTimeout 硬件单次活动的限时
const DefaultWatchdogTimeout = time.Second

// Watchdog 调度器持有的单一超时计时器，仅在硬件实际解码期间武装。
// 计时在后台任务上走，signal 回调在任务协程里发出；
// 代际计数让已取消的任务到期后静默退场。
type Watchdog struct {
	timeout time.Duration
	signal  func()

	mu         sync.Mutex
	generation uint64
	running    bool
	timedOut   bool
}

// NewWatchdog 创建看门狗，signal 在超时后被调用（不持有任何锁）
func NewWatchdog(timeout time.Duration, signal func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	return &Watchdog{timeout: timeout, signal: signal}
}

// Start 武装计时器；重复 Start 重新计时
func (w *Watchdog) Start() {
	w.mu.Lock()
	w.generation++
	w.running = true
	w.timedOut = false
	gen := w.generation
	w.mu.Unlock()

	scheduler.AfterFunc(w.timeout, func() {
		w.fire(gen)
	}, "decoder: watchdog")
}

// Cancel 解除武装；已在途的到期任务按代际作废
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	w.generation++
	w.running = false
	w.timedOut = false // 已触发未处理的超时随取消一并作废
	w.mu.Unlock()
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if !w.running || gen != w.generation {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.timedOut = true
	w.mu.Unlock()

	w.signal()
}

// CheckAndResetTimeout 消费一次超时事件。
// 超时信号与取消存在竞争，处理方用它确认超时仍然有效。
func (w *Watchdog) CheckAndResetTimeout() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.timedOut
	w.timedOut = false
	return t
}

// IsRunning 是否武装中
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
