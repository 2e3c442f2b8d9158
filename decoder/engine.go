// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"sync"
	"time"

	"github.com/cnotch/vdechub/hw"
	"github.com/cnotch/xlog"
)

// Engine 实例调度器：在两个物理核上复用多条独立推进的解码流。
// 至多一条流是"当前"，其余在换出队列里按 FIFO 轮转；
// 换出队列只在同时可换入的流之间保证公平，不可换入的流跳过且不丢位置。
// 没有优先级机制。
//
// 唯一一把引擎锁串行化全部调度状态和各流状态；
// 中断线程先取锁再碰任何状态。锁内的硬件收敛等待有界（至多 ~100ms），
// 等待期间其他流无法调度，这是接受的取舍。
type Engine struct {
	mu     sync.Mutex
	logger *xlog.Logger

	backend   hw.Backend
	allocator hw.Allocator
	cores     [hw.CoreCount]hw.DecoderCore

	current    *Instance
	activeCore hw.DecoderCore
	swappedOut []*Instance

	watchdog *Watchdog

	// 测试钩子：每次调度都强制走保存/恢复路径
	forceContextSwap bool
}

// NewEngine 创建引擎并启动两个核的中断服务协程
func NewEngine(backend hw.Backend, allocator hw.Allocator, watchdogTimeout time.Duration, logger *xlog.Logger) *Engine {
	if logger == nil {
		logger = xlog.L()
	}
	e := &Engine{
		logger:    logger,
		backend:   backend,
		allocator: allocator,
	}
	e.cores[hw.CoreVdec1] = hw.NewVdec1Core(backend, allocator)
	e.cores[hw.CoreHevc] = hw.NewHevcCore(backend, allocator)
	e.watchdog = NewWatchdog(watchdogTimeout, e.onWatchdogTimeout)

	go e.serveInterrupts(hw.CoreVdec1)
	go e.serveInterrupts(hw.CoreHevc)
	return e
}

// Lock 引擎锁。调度操作都要求调用方持有它。
func (e *Engine) Lock() { e.mu.Lock() }

// Unlock 释放引擎锁
func (e *Engine) Unlock() { e.mu.Unlock() }

// Core 某个核的访问器，要求已持锁
func (e *Engine) Core(t hw.CoreType) hw.DecoderCore { return e.cores[t] }

// Vdec1Core 通用 VLD 核
func (e *Engine) Vdec1Core() hw.DecoderCore { return e.cores[hw.CoreVdec1] }

// HevcCore HEVC/VP9 核
func (e *Engine) HevcCore() hw.DecoderCore { return e.cores[hw.CoreHevc] }

// Watchdog 调度器的单一超时计时器
func (e *Engine) Watchdog() *Watchdog { return e.watchdog }

// CurrentInstance 当前实例，可能为 nil。要求已持锁。
func (e *Engine) CurrentInstance() *Instance { return e.current }

// Current 当前被调度的状态机，可能为 nil。要求已持锁。
func (e *Engine) Current() StreamDecoder {
	if e.current == nil {
		return nil
	}
	return e.current.Decoder()
}

// CurrentCore 当前实例绑定的核，可能为 nil。要求已持锁。
func (e *Engine) CurrentCore() hw.DecoderCore { return e.activeCore }

// SetForceContextSwap 测试钩子：每轮调度强制保存并换出当前流
func (e *Engine) SetForceContextSwap(force bool) { e.forceContextSwap = force }

// AddNewDecoderInstance 挂入换出队列尾。要求已持锁。
func (e *Engine) AddNewDecoderInstance(inst *Instance) {
	e.swappedOut = append(e.swappedOut, inst)
}

// RemoveDecoder 摘除一条流并交还其实例，找不到返回 nil。要求已持锁。
// 摘除当前流会立即让出硬件并重新调度。
func (e *Engine) RemoveDecoder(dec StreamDecoder) *Instance {
	if e.current != nil && e.current.Decoder() == dec {
		inst := e.current
		e.watchdog.Cancel()
		e.activeCore.StopDecoding()
		e.activeCore.WaitForIdle()
		e.current = nil
		e.activeCore = nil
		e.TryToReschedule()
		return inst
	}

	for i, inst := range e.swappedOut {
		if inst.Decoder() == dec {
			e.swappedOut = append(e.swappedOut[:i], e.swappedOut[i+1:]...)
			return inst
		}
	}
	return nil
}

// TryToReschedule 中心调度算法。要求已持锁。
//
// 当前流不可打断则什么都不做；被强制让出则先换出；
// 然后从换出队列头开始找第一条可换入的流换入。
// 找不到候选时当前流（如果有）保持当前。
func (e *Engine) TryToReschedule() {
	if e.current != nil {
		dec := e.current.Decoder()
		if !dec.CanBeSwappedOut() {
			return
		}
		if dec.MustBeSwappedOut() || e.forceContextSwap {
			e.assertWatchdogIdle()
			e.swapOutCurrentInstance()
		}
	}

	idx := -1
	for i, inst := range e.swappedOut {
		if inst.Decoder().CanBeSwappedIn() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	e.assertWatchdogIdle()
	if e.current != nil {
		e.swapOutCurrentInstance()
	}

	inst := e.swappedOut[idx]
	e.swappedOut = append(e.swappedOut[:idx], e.swappedOut[idx+1:]...)
	e.swapInCurrentInstance(inst)
}

// swapOutCurrentInstance 让当前流离开硬件。
// 保存失败通知流的错误处理，但回卷继续：失败的保存不能卡死调度器。
func (e *Engine) swapOutCurrentInstance() {
	inst := e.current
	dec := inst.Decoder()
	core := e.activeCore

	if dec.ShouldSaveInputContext() || e.forceContextSwap {
		if inst.InputContext() == nil {
			buf, err := e.allocator.Allocate("input-context", hw.InputContextSize,
				hw.InputContextSize, hw.AllocOptions{Writable: true})
			if err != nil {
				e.logger.Errorf("decoder: allocate input context: %v", err)
				dec.OnFatalError()
			} else {
				inst.SetInputContext(&hw.InputContext{Buffer: buf})
			}
		}
		if ctx := inst.InputContext(); ctx != nil {
			if err := core.SaveInputContext(ctx); err != nil {
				e.logger.Errorf("decoder: save input context: %v", err)
				dec.OnFatalError()
			}
		}
	}

	dec.SetSwappedOut()
	core.StopDecoding()
	core.WaitForIdle()

	e.current = nil
	e.activeCore = nil
	e.swappedOut = append(e.swappedOut, inst)
}

// swapInCurrentInstance 把一条流绑定为当前。
// 没有快照说明是首次换入，走全新的码流输入初始化；
// 首次换入前已有缓冲数据时推进硬件写指针补齐。
func (e *Engine) swapInCurrentInstance(inst *Instance) {
	dec := inst.Decoder()
	core := e.cores[dec.CoreType()]
	e.current = inst
	e.activeCore = core

	if err := dec.SetupProtection(); err != nil {
		e.powerOffForError(err)
		return
	}

	sb := inst.Buffer()
	if inst.InputContext() == nil {
		if sb.UseParser() {
			core.InitializeStreamInput(sb.Buffer().PhysBase(), uint32(sb.Size()))
		} else {
			core.InitializeDirectInput(sb.Buffer().PhysBase(), uint32(sb.Size()))
		}
		if n := sb.DataSize() + sb.PaddingSize(); n > 0 {
			core.UpdateWriteOffset(uint32(n % uint64(sb.Size())))
		}
	} else if err := core.RestoreInputContext(inst.InputContext()); err != nil {
		e.powerOffForError(err)
		return
	}

	if err := dec.InitializeHardware(); err != nil {
		e.powerOffForError(err)
		return
	}
	dec.SwappedIn()
}

// powerOffForError 换入失败的恢复路径：解绑、回队、把流标成永久不可调度，
// 然后重试调度，保证其他流的前进不被一条坏流挡住。
func (e *Engine) powerOffForError(err error) {
	inst := e.current
	e.logger.Errorf("decoder: swap in failed, parking stream: %v", err)

	e.current = nil
	e.activeCore = nil
	e.swappedOut = append(e.swappedOut, inst)
	inst.Decoder().OnFatalError()

	e.TryToReschedule()
}

func (e *Engine) assertWatchdogIdle() {
	if e.watchdog.IsRunning() {
		panic("decoder: watchdog running while starting a swap")
	}
}

// serveInterrupts 一个核的中断服务循环。
// 非当前流的中断是换出竞争的残留，直接忽略。
func (e *Engine) serveInterrupts(t hw.CoreType) {
	for status := range e.backend.Interrupts(t) {
		e.mu.Lock()
		if e.current != nil && e.current.Decoder().CoreType() == t {
			e.current.Decoder().HandleInterrupt(status)
		}
		e.mu.Unlock()
	}
}

// onWatchdogTimeout 看门狗到期。取消与到期存在竞争，先确认超时仍有效。
func (e *Engine) onWatchdogTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.watchdog.CheckAndResetTimeout() {
		return
	}
	if e.current == nil {
		return
	}
	e.logger.Warnf("decoder: watchdog fired for %s", e.current.Decoder().CoreType())
	e.current.Decoder().OnSignaledWatchdog()
}
