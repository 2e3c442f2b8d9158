// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogFires(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := NewWatchdog(20*time.Millisecond, func() { fired <- struct{}{} })

	w.Start()
	assert.True(t, w.IsRunning())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.False(t, w.IsRunning())
	assert.True(t, w.CheckAndResetTimeout())
	assert.False(t, w.CheckAndResetTimeout(), "timeout is consumed once")
}

func TestWatchdogCancelInvalidatesPendingExpiry(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := NewWatchdog(20*time.Millisecond, func() { fired <- struct{}{} })

	w.Start()
	w.Cancel()
	assert.False(t, w.IsRunning())

	select {
	case <-fired:
		t.Fatal("cancelled watchdog must not fire")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, w.CheckAndResetTimeout())
}

func TestWatchdogCancelAfterFireDropsTimeout(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	w := NewWatchdog(time.Millisecond, func() {
		entered <- struct{}{}
		<-release
	})

	w.Start()
	select {
	case <-entered: // 已到期，信号处理尚未执行
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	// 此时取消（如硬件已证明存活后换出），挂起的超时必须随之作废
	w.Cancel()
	assert.False(t, w.CheckAndResetTimeout())
	close(release)
}

func TestWatchdogRestartRearms(t *testing.T) {
	fired := make(chan struct{}, 2)
	w := NewWatchdog(20*time.Millisecond, func() { fired <- struct{}{} })

	// 重新 Start 作废旧代际，只有最后一次计时生效
	w.Start()
	w.Start()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	select {
	case <-fired:
		t.Fatal("stale generation must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}
