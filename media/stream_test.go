// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package media

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/hw"
	"github.com/stretchr/testify/assert"
)

// fakeBackend 行为良好的寄存器桩：DMA 立即完成，子单元立即静默
type fakeBackend struct {
	l    sync.Mutex
	regs [hw.CoreCount]map[hw.Reg]uint32
	irqs [hw.CoreCount]chan uint32
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
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
	case hw.RegImemDmaCtrl, hw.RegSwapCtrl:
		v &^= hw.DmaBusy
	}
	b.regs[core][r] = v
}

func (b *fakeBackend) ReadReg(core hw.CoreType, r hw.Reg) uint32 {
	b.l.Lock()
	defer b.l.Unlock()
	return b.regs[core][r]
}

func (b *fakeBackend) PowerOn(core hw.CoreType) error            { return nil }
func (b *fakeBackend) PowerOff(core hw.CoreType)                 {}
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
	l        sync.Mutex
	nextBase uint64
}

func (a *fakeAllocator) Allocate(tag string, size, alignment int, opts hw.AllocOptions) (hw.PhysBuffer, error) {
	a.l.Lock()
	defer a.l.Unlock()
	if a.nextBase == 0 {
		a.nextBase = 0x1000_0000
	}
	buf := &fakeBuffer{base: a.nextBase, data: make([]byte, size)}
	a.nextBase += uint64(size)
	return buf, nil
}

type fakeFirmware struct{}

func (fakeFirmware) FirmwareBlob(name string) ([]byte, error) {
	return make([]byte, 4096), nil
}

var initTestDecoder sync.Once

func initTestGlobals() {
	initTestDecoder.Do(func() {
		InitDecoder(newFakeBackend(), &fakeAllocator{}, fakeFirmware{})
	})
}

type countConsumer struct {
	frames int32
	eos    int32
}

func (c *countConsumer) Consume(frame *av.Frame) { atomic.AddInt32(&c.frames, 1) }
func (c *countConsumer) OnEos()                  { atomic.AddInt32(&c.eos, 1) }
func (c *countConsumer) OnError(err error)       {}
func (c *countConsumer) Close() error            { return nil }

type panicConsumer struct {
	try int32
}

func (c *panicConsumer) Consume(frame *av.Frame) {
	if atomic.AddInt32(&c.try, 1) > 3 {
		panic("panicConsumer")
	}
}
func (c *panicConsumer) OnEos()            {}
func (c *panicConsumer) OnError(err error) {}
func (c *panicConsumer) Close() error      { return nil }

const sdpRaw = `v=0
o=- 0 0 IN IP4 127.0.0.1
s=No Name
c=IN IP4 127.0.0.1
t=0 0
a=tool:libavformat 58.20.100
m=video 0 RTP/AVP 96
b=AS:2500
a=rtpmap:96 H264/90000
a=fmtp:96 packetization-mode=1; sprop-parameter-sets=Z2QAH6zZQFAFuhAAAAMAEAAAAwPI8YMZYA==,aO+8sA==; profile-level-id=64001F
a=control:streamid=0
`

func TestNewStream(t *testing.T) {
	initTestGlobals()

	s, err := NewStream("/live/enter", sdpRaw, Attr(" ok ", "ok"), Attr("name", "chj"))
	assert.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "ok", s.Attr("Ok"))
	assert.Equal(t, "H264", s.Video.Codec)
	assert.Equal(t, 1280, s.Video.Width)
	assert.Equal(t, 720, s.Video.Height)
	assert.Equal(t, 90000, s.Video.ClockRate)
	assert.NotNil(t, s.Video.Sps)
	assert.NotNil(t, s.Video.Pps)
}

func TestNewStreamUnsupportedCodec(t *testing.T) {
	initTestGlobals()

	badSdp := `v=0
o=- 0 0 IN IP4 127.0.0.1
s=No Name
m=video 0 RTP/AVP 96
a=rtpmap:96 H265/90000
`
	_, err := NewStream("/live/h265", badSdp)
	assert.Error(t, err)
}

func TestStreamWriteInput(t *testing.T) {
	initTestGlobals()

	s, err := NewStream("/live/input", sdpRaw)
	assert.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.WriteInput([]byte{0, 0, 0, 1, 0x65}, 42, true))
	assert.NoError(t, s.WriteEos())

	s.Close()
	assert.Equal(t, ErrStreamClosed, s.WriteInput([]byte{0}, 0, false))
}

func Test_Consumption_Consume(t *testing.T) {
	initTestGlobals()

	s, err := NewStream("/live/consume", sdpRaw)
	assert.NoError(t, err)
	defer s.Close()

	consumer := &countConsumer{}
	cid := s.StartConsume(consumer, FrameConsumer, "")
	assert.Equal(t, 1, s.consumptions.Count(), "must is 1")

	frame := &av.Frame{Index: 0, CodedWidth: 64, CodedHeight: 48, Stride: 64,
		Buffer: &fakeBuffer{data: make([]byte, 64*48*3/2)}}
	for i := 0; i < 5; i++ {
		s.OnFrameReady(frame)
		<-time.After(time.Millisecond * 10)
	}

	<-time.After(time.Millisecond * 100)
	assert.EqualValues(t, 5, atomic.LoadInt32(&consumer.frames))

	cinfo, ok := s.GetConsumption(cid)
	assert.True(t, ok, "must is true")
	assert.NotZero(t, cinfo.Flow.InBytes, "must > 0")

	// 消费完成后帧引用全部交还
	s.frameMu.Lock()
	pending := len(s.pendingReturns)
	s.frameMu.Unlock()
	assert.Equal(t, 0, pending)

	s.StopConsume(cid)
	assert.Equal(t, 0, s.consumptions.Count(), "must is 0")
}

func Test_Consumption_FanOut(t *testing.T) {
	initTestGlobals()

	s, err := NewStream("/live/fanout", sdpRaw)
	assert.NoError(t, err)
	defer s.Close()

	c1 := &countConsumer{}
	c2 := &countConsumer{}
	s.StartConsume(c1, FrameConsumer, "")
	s.StartConsume(c2, WSConsumer, "")

	frame := &av.Frame{Index: 1, CodedWidth: 64, CodedHeight: 48, Stride: 64,
		Buffer: &fakeBuffer{data: make([]byte, 64*48*3/2)}}
	s.OnFrameReady(frame)

	<-time.After(time.Millisecond * 100)
	assert.EqualValues(t, 1, atomic.LoadInt32(&c1.frames))
	assert.EqualValues(t, 1, atomic.LoadInt32(&c2.frames))

	s.frameMu.Lock()
	pending := len(s.pendingReturns)
	s.frameMu.Unlock()
	assert.Equal(t, 0, pending)
}

func Test_Consumption_ConsumePanic(t *testing.T) {
	initTestGlobals()

	s, err := NewStream("/live/panic", sdpRaw)
	assert.NoError(t, err)
	defer s.Close()

	s.StartConsume(&panicConsumer{}, FrameConsumer, "")
	assert.Equal(t, 1, s.consumptions.Count(), "must is 1")

	frame := &av.Frame{Index: 2, CodedWidth: 64, CodedHeight: 48, Stride: 64,
		Buffer: &fakeBuffer{data: make([]byte, 64*48*3/2)}}
	for i := 0; i < 6; i++ {
		s.OnFrameReady(frame)
		<-time.After(time.Millisecond * 10)
	}

	<-time.After(time.Millisecond * 100)
	assert.Equal(t, 0, s.consumptions.Count(), "panic autoclose,must is 0")
}

func TestRegistReplace(t *testing.T) {
	initTestGlobals()

	s1, err := NewStream("/live/replace", sdpRaw)
	assert.NoError(t, err)
	Regist(s1)

	s2, err := NewStream("/live/replace", sdpRaw)
	assert.NoError(t, err)
	Regist(s2)

	<-time.After(time.Millisecond * 50)
	assert.Equal(t, s2, Get("/live/replace"))
	assert.Equal(t, ErrStreamReplaced, s1.WriteInput([]byte{0}, 0, false))

	Unregist(s2)
	assert.Nil(t, Get("/live/replace"))
}

func TestStreamEosNotifiesConsumers(t *testing.T) {
	initTestGlobals()

	s, err := NewStream("/live/eos", sdpRaw)
	assert.NoError(t, err)
	defer s.Close()

	consumer := &countConsumer{}
	s.StartConsume(consumer, FrameConsumer, "")

	s.OnEos()
	assert.EqualValues(t, 1, atomic.LoadInt32(&consumer.eos))
}
