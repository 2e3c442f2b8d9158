// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeBackend 行为良好的寄存器桩：DMA 立即完成，子单元立即静默
type fakeBackend struct {
	l        sync.Mutex
	regs     [CoreCount]map[Reg]uint32
	powerOns [CoreCount]int
	powerOn  [CoreCount]bool
	irqs     [CoreCount]chan uint32

	stuckUnits map[Reg]bool // 置位的子单元状态寄存器保持忙
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{stuckUnits: make(map[Reg]bool)}
	for i := range b.regs {
		b.regs[i] = make(map[Reg]uint32)
		b.irqs[i] = make(chan uint32, 16)
	}
	return b
}

func (b *fakeBackend) WriteReg(core CoreType, r Reg, v uint32) {
	b.l.Lock()
	defer b.l.Unlock()

	switch r {
	case RegImemDmaCtrl, RegSwapCtrl:
		v &^= DmaBusy // DMA 立即完成
	}
	b.regs[core][r] = v
}

func (b *fakeBackend) ReadReg(core CoreType, r Reg) uint32 {
	b.l.Lock()
	defer b.l.Unlock()

	if b.stuckUnits[r] {
		return UnitBusy
	}
	return b.regs[core][r]
}

func (b *fakeBackend) PowerOn(core CoreType) error {
	b.l.Lock()
	defer b.l.Unlock()
	b.powerOns[core]++
	b.powerOn[core] = true
	return nil
}

func (b *fakeBackend) PowerOff(core CoreType) {
	b.l.Lock()
	defer b.l.Unlock()
	b.powerOn[core] = false
}

func (b *fakeBackend) Interrupts(core CoreType) <-chan uint32 { return b.irqs[core] }

// fakeBuffer 普通内存模拟的物理缓冲
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
	fail     bool
}

func (a *fakeAllocator) Allocate(tag string, size, alignment int, opts AllocOptions) (PhysBuffer, error) {
	if a.fail {
		return nil, ErrTimedOut
	}
	if a.nextBase == 0 {
		a.nextBase = 0x1000_0000
	}
	buf := &fakeBuffer{base: a.nextBase, data: make([]byte, size)}
	a.nextBase += uint64(size)
	return buf, nil
}

func TestPowerReference_Idempotence(t *testing.T) {
	backend := newFakeBackend()
	core := NewVdec1Core(backend, &fakeAllocator{})

	const n = 5
	refs := make([]*PowerReference, 0, n)
	for i := 0; i < n; i++ {
		ref, err := NewPowerReference(core)
		assert.NoError(t, err)
		refs = append(refs, ref)
	}
	assert.True(t, core.Powered())
	assert.Equal(t, 1, backend.powerOns[CoreVdec1], "must power on exactly once")

	// 乱序释放，重复 Release 无效果
	refs[2].Release()
	refs[2].Release()
	refs[0].Release()
	refs[4].Release()
	refs[1].Release()
	assert.True(t, core.Powered())

	refs[3].Release()
	assert.False(t, core.Powered())
	assert.Equal(t, 1, backend.powerOns[CoreVdec1])
}

func TestVdec1Core_StartStopIdempotent(t *testing.T) {
	backend := newFakeBackend()
	core := NewVdec1Core(backend, &fakeAllocator{})

	core.StopDecoding() // 未启动时的停止是空操作
	assert.False(t, core.DecodingStarted())

	core.StartDecoding()
	core.StartDecoding()
	assert.True(t, core.DecodingStarted())
	assert.Equal(t, uint32(1), backend.ReadReg(CoreVdec1, RegMpsr))

	core.StopDecoding()
	core.StopDecoding()
	assert.False(t, core.DecodingStarted())
	assert.Equal(t, uint32(0), backend.ReadReg(CoreVdec1, RegMpsr))
}

func TestVdec1Core_StreamOffsets(t *testing.T) {
	backend := newFakeBackend()
	core := NewVdec1Core(backend, &fakeAllocator{})

	core.InitializeDirectInput(0x2000_0000, 1<<20)
	assert.Equal(t, uint32(0), core.StreamInputOffset())
	assert.Equal(t, uint32(0), core.ReadOffset())

	core.UpdateWriteOffset(0x1234)
	assert.Equal(t, uint32(0x1234), core.StreamInputOffset())
}

func TestVdec1Core_WaitForIdle_ForcesReset(t *testing.T) {
	backend := newFakeBackend()
	backend.stuckUnits[RegDblkStatus] = true
	core := NewVdec1Core(backend, &fakeAllocator{})

	// 永不静默的子单元被强制复位，WaitForIdle 总是返回
	core.WaitForIdle()
	assert.Equal(t, uint32(0), backend.regs[CoreVdec1][RegDblkCtrl])
}

func TestVdec1Core_SaveRestoreInputContext(t *testing.T) {
	backend := newFakeBackend()
	alloc := &fakeAllocator{}
	core := NewVdec1Core(backend, alloc)

	buf, err := alloc.Allocate("input context", InputContextSize, 4096, AllocOptions{Writable: true})
	assert.NoError(t, err)
	ctx := &InputContext{Buffer: buf}

	assert.NoError(t, core.SaveInputContext(ctx))
	assert.NoError(t, core.RestoreInputContext(ctx))
	assert.Equal(t, uint32(buf.PhysBase()), backend.ReadReg(CoreVdec1, RegSwapAddr))
}

func TestVdec1Core_LoadFirmware(t *testing.T) {
	backend := newFakeBackend()
	core := NewVdec1Core(backend, &fakeAllocator{})

	assert.NoError(t, core.LoadFirmware(make([]byte, 8192)))
	assert.Equal(t, uint32(8192/4), backend.ReadReg(CoreVdec1, RegImemDmaLen))
}
