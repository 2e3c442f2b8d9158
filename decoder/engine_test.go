// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cnotch/vdechub/hw"
	"github.com/stretchr/testify/assert"
)

// fakeBackend 行为良好的寄存器桩，额外模拟输入上下文的保存/恢复：
// 以快照缓冲地址为键记录/回填 VIFO 读写指针
type fakeBackend struct {
	l     sync.Mutex
	regs  [hw.CoreCount]map[hw.Reg]uint32
	irqs  [hw.CoreCount]chan uint32
	saved map[uint32][2]uint32
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{saved: make(map[uint32][2]uint32)}
	for i := range b.regs {
		b.regs[i] = make(map[hw.Reg]uint32)
		b.irqs[i] = make(chan uint32, 16)
	}
	return b
}

func (b *fakeBackend) WriteReg(core hw.CoreType, r hw.Reg, v uint32) {
	b.l.Lock()
	defer b.l.Unlock()

	switch r {
	case hw.RegSwapCtrl:
		addr := b.regs[core][hw.RegSwapAddr]
		if v&hw.SwapSave != 0 {
			b.saved[addr] = [2]uint32{b.regs[core][hw.RegVifoRP], b.regs[core][hw.RegVifoWP]}
		}
		if v&hw.SwapRestore != 0 {
			if s, ok := b.saved[addr]; ok {
				b.regs[core][hw.RegVifoRP] = s[0]
				b.regs[core][hw.RegVifoWP] = s[1]
			}
		}
		v &^= hw.DmaBusy
	case hw.RegImemDmaCtrl:
		v &^= hw.DmaBusy
	}
	b.regs[core][r] = v
}

func (b *fakeBackend) ReadReg(core hw.CoreType, r hw.Reg) uint32 {
	b.l.Lock()
	defer b.l.Unlock()
	return b.regs[core][r]
}

func (b *fakeBackend) PowerOn(core hw.CoreType) error { return nil }
func (b *fakeBackend) PowerOff(core hw.CoreType)      {}

func (b *fakeBackend) Interrupts(core hw.CoreType) <-chan uint32 { return b.irqs[core] }

type fakeBuffer struct {
	base uint64
	data []byte
}

func (f *fakeBuffer) PhysBase() uint64    { return f.base }
func (f *fakeBuffer) Size() int           { return len(f.data) }
func (f *fakeBuffer) Bytes() []byte       { return f.data }
func (f *fakeBuffer) Flush(int, int)      {}
func (f *fakeBuffer) Invalidate(int, int) {}
func (f *fakeBuffer) Free()               {}

type fakeAllocator struct {
	nextBase uint64
}

func (a *fakeAllocator) Allocate(tag string, size, alignment int, opts hw.AllocOptions) (hw.PhysBuffer, error) {
	if a.nextBase == 0 {
		a.nextBase = 0x1000_0000
	}
	buf := &fakeBuffer{base: a.nextBase, data: make([]byte, size)}
	a.nextBase += uint64(size)
	return buf, nil
}

// fakeStream 可编排的流状态机桩
type fakeStream struct {
	name    string
	canIn   bool
	canOut  bool
	mustOut bool
	save    bool
	fatal   bool

	setupErr error
	initErr  error

	schedule *[]string
	onSwapIn func()
}

func (s *fakeStream) CoreType() hw.CoreType { return hw.CoreVdec1 }

func (s *fakeStream) SetupProtection() error    { return s.setupErr }
func (s *fakeStream) InitializeHardware() error { return s.initErr }

func (s *fakeStream) SwappedIn() {
	if s.schedule != nil {
		*s.schedule = append(*s.schedule, s.name)
	}
	if s.onSwapIn != nil {
		s.onSwapIn()
	}
}

func (s *fakeStream) SetSwappedOut() {}

func (s *fakeStream) ShouldSaveInputContext() bool { return s.save }
func (s *fakeStream) CanBeSwappedOut() bool        { return s.canOut }
func (s *fakeStream) MustBeSwappedOut() bool       { return s.mustOut }
func (s *fakeStream) CanBeSwappedIn() bool         { return s.canIn && !s.fatal }

func (s *fakeStream) HandleInterrupt(uint32) {}
func (s *fakeStream) OnSignaledWatchdog()    {}
func (s *fakeStream) OnFatalError()          { s.fatal = true }

func newTestEngine() (*Engine, *fakeBackend, *fakeAllocator) {
	backend := newFakeBackend()
	alloc := &fakeAllocator{}
	return NewEngine(backend, alloc, time.Second, nil), backend, alloc
}

func addStream(t *testing.T, e *Engine, alloc *fakeAllocator, s *fakeStream) *Instance {
	sb := NewStreamBuffer()
	assert.NoError(t, sb.Allocate(alloc, 4096, false, false))
	inst, err := NewInstance(s, sb, e.Vdec1Core())
	assert.NoError(t, err)
	e.AddNewDecoderInstance(inst)
	return inst
}

func TestEngineRoundRobinFairness(t *testing.T) {
	e, _, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	var schedule []string
	for _, name := range []string{"a", "b", "c"} {
		addStream(t, e, alloc, &fakeStream{
			name: name, canIn: true, canOut: true, mustOut: true,
			schedule: &schedule,
		})
	}

	// 每轮调度都强制让出，N 条同时可换入的流按 FIFO 轮转
	for i := 0; i < 6; i++ {
		e.TryToReschedule()
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, schedule)
}

func TestEngineSkipsIneligibleWithoutReordering(t *testing.T) {
	e, _, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	var schedule []string
	a := &fakeStream{name: "a", canIn: true, canOut: true, mustOut: true, schedule: &schedule}
	b := &fakeStream{name: "b", canIn: false, canOut: true, mustOut: true, schedule: &schedule}
	c := &fakeStream{name: "c", canIn: true, canOut: true, mustOut: true, schedule: &schedule}
	addStream(t, e, alloc, a)
	addStream(t, e, alloc, b)
	addStream(t, e, alloc, c)

	// b 不可换入：被跳过且不丢队列位置，a/c 的相对次序不变
	for i := 0; i < 4; i++ {
		e.TryToReschedule()
	}
	assert.Equal(t, []string{"a", "c", "a", "c"}, schedule)

	// b 变为可换入后，凭队列位置立刻入选
	b.canIn = true
	e.TryToReschedule()
	assert.Equal(t, "b", schedule[len(schedule)-1])
}

func TestEngineSwapInFailureCascades(t *testing.T) {
	e, _, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	var schedule []string
	x := &fakeStream{name: "x", canIn: true, canOut: true, schedule: &schedule,
		setupErr: errors.New("protection setup failed")}
	y := &fakeStream{name: "y", canIn: true, canOut: true, schedule: &schedule}
	instX := addStream(t, e, alloc, x)
	addStream(t, e, alloc, y)

	// x 换入失败：回队、永久不可调度，y 被接着调度，调度器不悬空
	e.TryToReschedule()
	assert.Equal(t, []string{"y"}, schedule)
	assert.True(t, x.fatal)
	assert.False(t, x.CanBeSwappedIn())
	assert.NotNil(t, e.CurrentInstance())
	assert.Same(t, y, e.CurrentInstance().Decoder().(*fakeStream))
	assert.Contains(t, e.swappedOut, instX)
}

func TestEngineTwoStreamsOneStallsOnInput(t *testing.T) {
	e, _, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	var schedule []string
	a := &fakeStream{name: "a", canIn: true, canOut: false, schedule: &schedule}
	b := &fakeStream{name: "b", canIn: false, canOut: true, schedule: &schedule}
	addStream(t, e, alloc, a)
	addStream(t, e, alloc, b)

	e.TryToReschedule()
	assert.Equal(t, []string{"a"}, schedule)

	// b 收到数据后可换入，但 a 不可打断时调度是空操作
	b.canIn = true
	e.TryToReschedule()
	assert.Same(t, a, e.CurrentInstance().Decoder().(*fakeStream))

	// a 到达让出点后 b 才被选中
	a.canOut = true
	a.mustOut = true
	e.TryToReschedule()
	assert.Equal(t, []string{"a", "b"}, schedule)
	assert.Same(t, b, e.CurrentInstance().Decoder().(*fakeStream))
}

func TestEngineSwapOutWithoutSavePreservesWriteProgress(t *testing.T) {
	e, backend, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	var latestWrite uint32
	s := &fakeStream{name: "s", canIn: true, canOut: true, mustOut: true, save: true}
	s.onSwapIn = func() {
		// 状态机恢复后把硬件写指针推进到最新位置
		if latestWrite > 0 {
			e.CurrentCore().UpdateWriteOffset(latestWrite)
		}
	}
	inst := addStream(t, e, alloc, s)
	core := e.Vdec1Core()
	base := uint32(inst.Buffer().Buffer().PhysBase())

	// 首次换入，解码推进到 写 0x100 / 读 0x80
	e.TryToReschedule()
	core.UpdateWriteOffset(0x100)
	backend.WriteReg(hw.CoreVdec1, hw.RegVifoRP, base+0x80)

	// 带保存的换出换入：检查点记下 读 0x80 / 写 0x100；
	// 随后继续推进到 写 0x200 / 读 0x180
	latestWrite = 0x100
	e.TryToReschedule()
	latestWrite = 0x200
	core.UpdateWriteOffset(0x200)
	backend.WriteReg(hw.CoreVdec1, hw.RegVifoRP, base+0x180)

	// 数据不足，不保存地换出（旧检查点保持回滚点）再换入：
	// 读指针回到检查点，写指针推进到最新值
	s.save = false
	e.TryToReschedule()
	assert.Equal(t, uint32(0x80), core.ReadOffset())
	assert.Equal(t, uint32(0x200), core.StreamInputOffset())
}

func TestEngineForceContextSwapSavesAndRestores(t *testing.T) {
	e, backend, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	// 非检查点让出的流，本不要求保存
	s := &fakeStream{name: "s", canIn: true, canOut: true}
	inst := addStream(t, e, alloc, s)
	core := e.Vdec1Core()
	base := uint32(inst.Buffer().Buffer().PhysBase())

	e.SetForceContextSwap(true)
	e.TryToReschedule()
	core.UpdateWriteOffset(0x100)
	backend.WriteReg(hw.CoreVdec1, hw.RegVifoRP, base+0x80)

	// 强制换出也强制走保存分支：快照被建立，换入回填读写指针
	e.TryToReschedule()
	assert.NotNil(t, inst.InputContext())
	assert.Equal(t, uint32(0x80), core.ReadOffset())
	assert.Equal(t, uint32(0x100), core.StreamInputOffset())
}

func TestEngineRemoveDecoder(t *testing.T) {
	e, _, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	var schedule []string
	a := &fakeStream{name: "a", canIn: true, canOut: true, schedule: &schedule}
	b := &fakeStream{name: "b", canIn: true, canOut: true, schedule: &schedule}
	instA := addStream(t, e, alloc, a)
	instB := addStream(t, e, alloc, b)

	e.TryToReschedule()
	assert.Same(t, a, e.CurrentInstance().Decoder().(*fakeStream))

	// 摘除当前流让出硬件并立即调度下一条
	got := e.RemoveDecoder(a)
	assert.Same(t, instA, got)
	assert.Same(t, b, e.CurrentInstance().Decoder().(*fakeStream))

	// 摘除换出队列里的流
	e.RemoveDecoder(b) // b 是当前流，先摘掉
	assert.Nil(t, e.CurrentInstance())
	assert.Nil(t, e.RemoveDecoder(a)) // 已摘除的流找不到
	_ = instB
}

func TestEngineFirstSwapInAdvancesBufferedData(t *testing.T) {
	e, _, alloc := newTestEngine()
	e.Lock()
	defer e.Unlock()

	s := &fakeStream{name: "s", canIn: true, canOut: true}
	inst := addStream(t, e, alloc, s)

	// 首次换入前已有缓冲数据：硬件写指针补到匹配位置
	inst.Buffer().SetDataSize(0x240)
	e.TryToReschedule()
	assert.Equal(t, uint32(0x240), e.Vdec1Core().StreamInputOffset())
}
