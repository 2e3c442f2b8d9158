// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/decoder"
	"github.com/cnotch/vdechub/hw"
	"github.com/stretchr/testify/assert"
)

type fakeBackend struct {
	l    sync.Mutex
	regs map[hw.Reg]uint32
	irq  chan uint32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{regs: make(map[hw.Reg]uint32), irq: make(chan uint32, 16)}
}

func (b *fakeBackend) WriteReg(core hw.CoreType, r hw.Reg, v uint32) {
	b.l.Lock()
	defer b.l.Unlock()
	if r == hw.RegImemDmaCtrl || r == hw.RegSwapCtrl {
		v &^= hw.DmaBusy
	}
	b.regs[r] = v
}

func (b *fakeBackend) ReadReg(core hw.CoreType, r hw.Reg) uint32 {
	b.l.Lock()
	defer b.l.Unlock()
	return b.regs[r]
}

func (b *fakeBackend) PowerOn(core hw.CoreType) error            { return nil }
func (b *fakeBackend) PowerOff(core hw.CoreType)                 {}
func (b *fakeBackend) Interrupts(core hw.CoreType) <-chan uint32 { return b.irq }

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
	byTag    map[string]*fakeBuffer
}

func (a *fakeAllocator) Allocate(tag string, size, alignment int, opts hw.AllocOptions) (hw.PhysBuffer, error) {
	if a.nextBase == 0 {
		a.nextBase = 0x1000_0000
		a.byTag = make(map[string]*fakeBuffer)
	}
	buf := &fakeBuffer{base: a.nextBase, data: make([]byte, size)}
	a.nextBase += uint64(size)
	a.byTag[tag] = buf
	return buf, nil
}

type fakeFirmware struct{}

func (fakeFirmware) FirmwareBlob(name string) ([]byte, error) { return make([]byte, 256), nil }

type fakeScheduler struct {
	core        hw.DecoderCore
	wd          *decoder.Watchdog
	cur         decoder.StreamDecoder
	reschedules int
}

func (s *fakeScheduler) TryToReschedule()                   { s.reschedules++ }
func (s *fakeScheduler) Watchdog() *decoder.Watchdog        { return s.wd }
func (s *fakeScheduler) Core(hw.CoreType) hw.DecoderCore    { return s.core }
func (s *fakeScheduler) Current() decoder.StreamDecoder     { return s.cur }

type fakeSource struct {
	items   []decoder.InputItem
	hasMore bool
	pumps   int
	resets  int
}

func (s *fakeSource) ReadMoreInputData() (decoder.InputItem, bool) {
	if len(s.items) == 0 {
		return decoder.InputItem{}, false
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, true
}

func (s *fakeSource) HasMoreInputData() bool { return len(s.items) > 0 || s.hasMore }

func (s *fakeSource) AsyncPumpDecoder() { s.pumps++ }

func (s *fakeSource) AsyncResetStreamAfterCurrentFrame() { s.resets++ }

type fakeSink struct {
	frames    []*av.Frame
	deferInit bool
	initCalls int
	ready     []*av.Frame
	eos       bool
	err       error
}

func (s *fakeSink) InitializeFrames(minCount, maxCount, codedW, codedH, stride int,
	displayW, displayH int, hasSar bool, sarW, sarH uint16) ([]*av.Frame, error) {
	s.initCalls++
	if s.deferInit {
		return nil, nil
	}
	if s.frames == nil {
		for i := 0; i < minCount; i++ {
			s.frames = append(s.frames, &av.Frame{Index: i})
		}
	}
	return s.frames, nil
}

func (s *fakeSink) OnFrameReady(f *av.Frame) { s.ready = append(s.ready, f) }
func (s *fakeSink) OnEos()                   { s.eos = true }
func (s *fakeSink) OnError(err error)        { s.err = err }

type testEnv struct {
	backend *fakeBackend
	sched   *fakeScheduler
	source  *fakeSource
	sink    *fakeSink
	lmem    *fakeBuffer
	dec     *Decoder
}

func newTestEnv(t *testing.T) *testEnv {
	backend := newFakeBackend()
	alloc := &fakeAllocator{}
	sched := &fakeScheduler{
		core: hw.NewVdec1Core(backend, alloc),
		wd:   decoder.NewWatchdog(time.Minute, func() {}),
	}

	sb := decoder.NewStreamBuffer()
	assert.NoError(t, sb.Allocate(alloc, 4096, true, false))

	source := &fakeSource{}
	sink := &fakeSink{}
	dec, err := NewDecoder(Config{
		Scheduler: sched,
		Source:    source,
		Sink:      sink,
		Buffer:    sb,
		Backend:   backend,
		Allocator: alloc,
		Firmware:  fakeFirmware{},
	})
	assert.NoError(t, err)
	sched.cur = dec

	return &testEnv{
		backend: backend,
		sched:   sched,
		source:  source,
		sink:    sink,
		lmem:    alloc.byTag["h264-lmem"],
		dec:     dec,
	}
}

// sliceParams 参数块构造参数，零值对应 IDR 首片
type sliceParams struct {
	sliceType uint32
	firstMb   uint32
	frameNum  uint32
	pocLsb    uint32
	nalRefIdc uint32
	nalType   uint32
	idrPicID  uint32
}

func (e *testEnv) loadParamBlock(p sliceParams) {
	raw := e.lmem.data
	for i := range raw {
		raw[i] = 0
	}
	put := func(i int, v uint32) {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}

	put(pSliceType, p.sliceType)
	put(pFirstMbInSlice, p.firstMb)
	put(pFrameNum, p.frameNum)
	put(pPicOrderCntLsbLo, p.pocLsb&0xFFFF)
	put(pPicOrderCntLsbHi, p.pocLsb>>16)
	put(pNalRefIdc, p.nalRefIdc)
	put(pNalUnitType, p.nalType)
	put(pIdrPicID, p.idrPicID)

	put(pProfileIdc, 66)
	put(pLevelIdc, 31)
	put(pLog2MaxFrameNum, 8)
	put(pPicOrderCntType, 0)
	put(pLog2MaxPicOrderCntLsb, 8)
	put(pMaxNumRefFrames, 4)
	put(pMbWidth, 8)
	put(pMbHeight, 6)
	put(pFrameMbsOnly, 1)

	put(pNumRefIdxL0Default, 1)
	put(pNumRefIdxL1Default, 1)
}

func idrParams() sliceParams {
	return sliceParams{sliceType: 2, nalRefIdc: 3, nalType: 5}
}

func TestDecodeSliceParams(t *testing.T) {
	env := newTestEnv(t)
	env.loadParamBlock(sliceParams{
		sliceType: 0,
		firstMb:   12,
		frameNum:  7,
		pocLsb:    14,
		nalRefIdc: 2,
		nalType:   1,
	})

	sps, pps, sh, err := decodeSliceParams(env.lmem.data)
	assert.NoError(t, err)
	assert.EqualValues(t, 8, sps.Log2MaxFrameNum)
	assert.EqualValues(t, 4, sps.MaxNumRefFrames)
	assert.EqualValues(t, 128, sps.CodedWidth())
	assert.EqualValues(t, 1, pps.NumRefIdxL0DefaultActive)
	assert.False(t, sh.IdrPic)
	assert.EqualValues(t, 12, sh.FirstMbInSlice)
	assert.EqualValues(t, 7, sh.FrameNum)
	assert.EqualValues(t, 14, sh.PicOrderCntLsb)
	assert.EqualValues(t, 1, sh.NumRefIdxL0Active)
}

func TestDecodeSliceParamsShortBlock(t *testing.T) {
	_, _, _, err := decodeSliceParams(make([]byte, 16))
	assert.Error(t, err)
}

func TestDecoderPictureLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.source.items = []decoder.InputItem{
		{Data: make([]byte, 512), Pts: 42, HasPts: true},
	}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()
	assert.Equal(t, stateRunning, env.dec.state)
	assert.True(t, env.sched.wd.IsRunning())

	env.loadParamBlock(idrParams())
	env.dec.HandleInterrupt(statusSliceHeadDone)
	assert.NoError(t, env.sink.err)
	assert.Equal(t, 1, env.sink.initCalls)
	assert.True(t, env.dec.picInProgress)
	assert.EqualValues(t, 1, env.backend.ReadReg(hw.CoreVdec1, hw.RegDecodeStart))

	env.dec.HandleInterrupt(statusPicDataDone)
	assert.NoError(t, env.sink.err)
	assert.False(t, env.dec.picInProgress)
	assert.True(t, env.dec.MustBeSwappedOut())
	assert.True(t, env.dec.ShouldSaveInputContext())
	assert.False(t, env.sched.wd.IsRunning())
}

func TestDecoderEosFlushDeliversFrames(t *testing.T) {
	env := newTestEnv(t)
	env.source.items = []decoder.InputItem{
		{Data: make([]byte, 512), Pts: 42, HasPts: true},
	}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	env.loadParamBlock(idrParams())
	env.dec.HandleInterrupt(statusSliceHeadDone)
	env.dec.HandleInterrupt(statusPicDataDone)

	// 图像完成后的检查点让出；再换入，送入流尾
	env.dec.SetSwappedOut()
	env.source.items = []decoder.InputItem{{Eos: true}}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()
	env.dec.HandleInterrupt(statusBufEmpty)

	assert.True(t, env.sink.eos)
	assert.False(t, env.dec.CanBeSwappedIn())
	if assert.Len(t, env.sink.ready, 1) {
		frame := env.sink.ready[0]
		assert.Equal(t, 0, frame.Index)
		assert.EqualValues(t, 0, frame.Poc)
		assert.True(t, frame.HasPts)
		assert.EqualValues(t, 42, frame.Pts)
	}
}

func TestDecoderNoProgressFatalOnSecondAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.source.hasMore = true // 客户端声称有数据但从不供给
	env.source.items = []decoder.InputItem{{Data: make([]byte, 256)}}

	env.dec.SwappedIn()
	env.dec.PumpDecoder()
	env.dec.HandleInterrupt(statusBufEmpty)
	assert.NoError(t, env.sink.err) // 第一次尝试只是回退

	env.dec.SetSwappedOut()
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	assert.ErrorIs(t, env.sink.err, errNoProgress)
	assert.Equal(t, 1, env.source.resets)
	assert.False(t, env.dec.CanBeSwappedIn())
}

func TestDecoderRewindReplayAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.source.items = []decoder.InputItem{{Data: make([]byte, 512)}}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	env.loadParamBlock(idrParams())
	env.dec.HandleInterrupt(statusSliceHeadDone)
	assert.True(t, env.dec.picInProgress)

	// 图像中途码流耗尽：不保存地让出，图像尝试状态保留
	env.source.items = []decoder.InputItem{{Data: make([]byte, 256)}}
	env.dec.HandleInterrupt(statusBufEmpty)
	assert.False(t, env.dec.ShouldSaveInputContext())
	assert.True(t, env.dec.picInProgress)

	env.dec.SetSwappedOut()
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	// 从旧检查点重放同一片头，逐字节一致则静默接受
	env.backend.WriteReg(hw.CoreVdec1, hw.RegDecodeStart, 0)
	env.dec.HandleInterrupt(statusSliceHeadDone)
	assert.NoError(t, env.sink.err)
	assert.EqualValues(t, 1, env.backend.ReadReg(hw.CoreVdec1, hw.RegDecodeStart))
}

func TestDecoderRewindReplayMismatchFatal(t *testing.T) {
	env := newTestEnv(t)
	env.source.items = []decoder.InputItem{{Data: make([]byte, 512)}}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	env.loadParamBlock(idrParams())
	env.dec.HandleInterrupt(statusSliceHeadDone)
	env.dec.HandleInterrupt(statusBufEmpty)
	env.dec.SetSwappedOut()
	env.dec.SwappedIn()

	// 重放的片内容与上次不同
	p := idrParams()
	p.idrPicID = 1
	env.loadParamBlock(p)
	env.dec.HandleInterrupt(statusSliceHeadDone)

	assert.Error(t, env.sink.err)
	assert.Equal(t, 1, env.source.resets)
}

func TestDecoderSliceOrderViolation(t *testing.T) {
	env := newTestEnv(t)
	env.source.items = []decoder.InputItem{{Data: make([]byte, 512)}}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	p := idrParams()
	p.firstMb = 8
	env.loadParamBlock(p)
	env.dec.HandleInterrupt(statusSliceHeadDone)
	// 图像必须从宏块 0 开始
	assert.Error(t, env.sink.err)
}

func TestDecoderDeferredFrameAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.sink.deferInit = true
	env.source.items = []decoder.InputItem{{Data: make([]byte, 512)}}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	env.loadParamBlock(idrParams())
	env.dec.HandleInterrupt(statusSliceHeadDone)
	assert.Equal(t, stateWaitingForConfigChange, env.dec.state)
	assert.False(t, env.dec.CanBeSwappedIn())
	assert.False(t, env.dec.picInProgress)

	frames := []*av.Frame{{}, {}, {}, {}, {}, {}}
	env.dec.InitializedFrames(frames)
	assert.True(t, env.dec.CanBeSwappedIn())
	assert.Equal(t, stateWaitingForInputOrOutput, env.dec.state)
}

func TestDecoderWatchdogTimeoutFailsStream(t *testing.T) {
	env := newTestEnv(t)
	env.source.items = []decoder.InputItem{{Data: make([]byte, 512)}}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	env.dec.OnSignaledWatchdog()
	assert.Error(t, env.sink.err)
	assert.Equal(t, 1, env.source.resets)
	assert.False(t, env.dec.CanBeSwappedIn())
	assert.False(t, env.sched.core.DecodingStarted())
}

func TestDecoderWaitsForReturnedFrame(t *testing.T) {
	env := newTestEnv(t)
	env.sink.frames = []*av.Frame{{Index: 0}} // 只有一块输出帧
	env.source.items = []decoder.InputItem{{Data: make([]byte, 512)}}
	env.dec.SwappedIn()
	env.dec.PumpDecoder()

	env.loadParamBlock(idrParams())
	env.dec.HandleInterrupt(statusSliceHeadDone)
	env.dec.HandleInterrupt(statusPicDataDone)
	assert.NoError(t, env.sink.err)

	// 下一幅图像没有空闲帧可用
	env.dec.SetSwappedOut()
	env.dec.SwappedIn()
	p := sliceParams{sliceType: 0, frameNum: 1, pocLsb: 2, nalRefIdc: 2, nalType: 1}
	env.loadParamBlock(p)
	env.dec.HandleInterrupt(statusSliceHeadDone)
	assert.NoError(t, env.sink.err)
	assert.False(t, env.dec.CanBeSwappedIn())

	env.dec.ReturnedFrame(0)
	assert.True(t, env.dec.CanBeSwappedIn())
}
