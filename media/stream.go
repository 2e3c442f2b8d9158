// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package media

import (
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/config"
	"github.com/cnotch/vdechub/decoder"
	"github.com/cnotch/vdechub/decoder/h264"
	"github.com/cnotch/vdechub/hw"
	"github.com/cnotch/vdechub/stats"
	"github.com/cnotch/vdechub/utils"
	"github.com/cnotch/xlog"
)

// 流状态
const (
	StreamOK       int32 = iota
	StreamClosed         // 源关闭
	StreamReplaced       // 流被替换
	StreamNoConsumer
)

// 错误定义
var (
	// ErrStreamClosed 流被关闭
	ErrStreamClosed = errors.New("stream is closed")
	// ErrStreamReplaced 流被替换
	ErrStreamReplaced = errors.New("stream is replaced")
	statusErrors      = []error{nil, ErrStreamClosed, ErrStreamReplaced}
)

// 解码后台任务
type jobKind int

const (
	jobPump   jobKind = iota // 重新驱动解码泵
	jobInput                 // 通知有新输入
	jobReturn                // 归还输出帧
	jobReset                 // 客户端要求重建流
)

type job struct {
	kind  jobKind
	frame int
}

// Stream 一条接入的解码流。
// 它同时是解码器的输入源和输出帧接收方；输出帧按引用计数
// 发给全部消费者，最后一个消费完成后归还给解码器。
type Stream struct {
	startOn              time.Time // 启动时间
	path                 string    // 流路径
	rawsdp               string
	size                 uint64 // 流已经接收到的输入（字节）
	status               int32  // 流状态
	consumerSequenceSeed uint32
	consumptions         consumptions      // 消费者列表
	attrs                map[string]string // 流属性
	logger               *xlog.Logger      // 日志对象
	Video                av.VideoMeta

	engine *decoder.Engine
	inst   *decoder.Instance
	dec    *h264.Decoder

	// 输入队列，解码器在引擎锁下按需取走
	inMu  sync.Mutex
	input []decoder.InputItem

	// 解码器的异步请求经 jobs 转回流自己的协程，
	// 在那里重新取引擎锁执行，避免在中断路径里做重活
	jobs *queue.SyncQueue

	// 输出帧的引用计数，全部消费者完成后才归还解码器
	frameMu        sync.Mutex
	frames         []*av.Frame
	pendingReturns map[int]int
	framesDecoded  uint64
}

// NewStream 创建新的流并注册解码实例
func NewStream(path string, rawsdp string, options ...Option) (*Stream, error) {
	s := &Stream{
		startOn:        time.Now(),
		path:           utils.CanonicalPath(path),
		rawsdp:         rawsdp,
		status:         StreamOK,
		attrs:          make(map[string]string, 2),
		jobs:           queue.NewSyncQueue(),
		pendingReturns: make(map[int]int),
		engine:         globalEngine,
		logger:         xlog.L().With(xlog.Fields(xlog.F("path", path))),
	}

	// parseMeta
	parseMeta(rawsdp, &s.Video)
	if s.Video.Codec != "H264" {
		return nil, errors.New("media: unsupported video codec: " + s.Video.Codec)
	}

	for _, option := range options {
		option.apply(s)
	}

	sb := decoder.NewStreamBuffer()
	if err := sb.Allocate(globalAllocator, config.EngineBufferSize(), true, false); err != nil {
		return nil, err
	}

	dec, err := h264.NewDecoder(h264.Config{
		Scheduler: s.engine,
		Source:    s,
		Sink:      s,
		Buffer:    sb,
		Backend:   globalBackend,
		Allocator: globalAllocator,
		Firmware:  globalFirmware,
		Logger:    s.logger,
	})
	if err != nil {
		sb.Free()
		return nil, err
	}

	s.engine.Lock()
	inst, err := decoder.NewInstance(dec, sb, s.engine.Vdec1Core())
	if err != nil {
		s.engine.Unlock()
		dec.Free()
		sb.Free()
		return nil, err
	}
	s.engine.AddNewDecoderInstance(inst)
	s.engine.Unlock()

	s.dec = dec
	s.inst = inst

	go s.serveJobs()
	return s, nil
}

// Path 流路径
func (s *Stream) Path() string {
	return s.path
}

// Sdp  sdp 字串
func (s *Stream) Sdp() string {
	return s.rawsdp
}

// Attr 流属性
func (s *Stream) Attr(key string) string {
	return s.attrs[strings.ToLower(strings.TrimSpace(key))]
}

// Close 关闭流
func (s *Stream) Close() error {
	return s.close(StreamClosed)
}
func (s *Stream) close(status int32) error {
	if atomic.LoadInt32(&s.status) != StreamOK {
		return nil
	}

	// 修改流状态
	if status != StreamReplaced {
		status = StreamClosed
	}
	atomic.StoreInt32(&s.status, status)

	s.consumptions.RemoveAndCloseAll()

	// 摘除解码实例并释放其资源
	s.engine.Lock()
	inst := s.engine.RemoveDecoder(s.dec)
	s.engine.Unlock()
	if inst != nil {
		inst.Free()
	}
	s.dec.Free()
	s.freeFrames()

	// 唤醒任务协程退出
	s.jobs.Signal()
	return nil
}

// WriteInput 向流写入一段码流数据
func (s *Stream) WriteInput(data []byte, pts int64, hasPts bool) error {
	status := atomic.LoadInt32(&s.status)
	if status != StreamOK {
		return statusErrors[status]
	}

	atomic.AddUint64(&s.size, uint64(len(data)))

	s.inMu.Lock()
	s.input = append(s.input, decoder.InputItem{Data: data, Pts: pts, HasPts: hasPts})
	s.inMu.Unlock()

	s.jobs.Push(job{kind: jobInput})
	return nil
}

// WriteEos 标记输入结束
func (s *Stream) WriteEos() error {
	status := atomic.LoadInt32(&s.status)
	if status != StreamOK {
		return statusErrors[status]
	}

	s.inMu.Lock()
	s.input = append(s.input, decoder.InputItem{Eos: true})
	s.inMu.Unlock()

	s.jobs.Push(job{kind: jobInput})
	return nil
}

// ReadMoreInputData 解码器取走下一段输入，引擎锁下调用
func (s *Stream) ReadMoreInputData() (decoder.InputItem, bool) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if len(s.input) == 0 {
		return decoder.InputItem{}, false
	}
	item := s.input[0]
	s.input[0] = decoder.InputItem{}
	s.input = s.input[1:]
	return item, true
}

// HasMoreInputData 是否还有排队的输入
func (s *Stream) HasMoreInputData() bool {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	return len(s.input) > 0
}

// AsyncPumpDecoder 解码器请求稍后重新驱动泵循环
func (s *Stream) AsyncPumpDecoder() {
	s.jobs.Push(job{kind: jobPump})
}

// AsyncResetStreamAfterCurrentFrame 解码器请求重建流
func (s *Stream) AsyncResetStreamAfterCurrentFrame() {
	s.jobs.Push(job{kind: jobReset})
}

// InitializeFrames 按新的序列参数分配输出帧集合（NV12）
func (s *Stream) InitializeFrames(minCount, maxCount int, codedWidth, codedHeight, stride int,
	displayWidth, displayHeight int, hasSar bool, sarWidth, sarHeight uint16) ([]*av.Frame, error) {
	count := minCount + 2
	if count > maxCount {
		count = maxCount
	}

	s.freeFrames()

	frames := make([]*av.Frame, 0, count)
	for i := 0; i < count; i++ {
		buf, err := globalAllocator.Allocate("frame", stride*codedHeight*3/2, 4096,
			hw.AllocOptions{Writable: true, Mapping: true})
		if err != nil {
			for _, f := range frames {
				f.Buffer.Free()
			}
			return nil, err
		}
		frames = append(frames, &av.Frame{
			Index:       i,
			CodedWidth:  codedWidth,
			CodedHeight: codedHeight,
			Width:       displayWidth,
			Height:      displayHeight,
			Stride:      stride,
			HasSar:      hasSar,
			SarWidth:    int(sarWidth),
			SarHeight:   int(sarHeight),
			Buffer:      buf,
		})
	}

	s.frameMu.Lock()
	s.frames = frames
	s.pendingReturns = make(map[int]int)
	s.frameMu.Unlock()

	s.Video.Width = displayWidth
	s.Video.Height = displayHeight
	return frames, nil
}

// OnFrameReady 解码器输出一帧，引擎锁下调用。
// 按存活消费者数建立引用计数；无消费者时直接安排归还。
func (s *Stream) OnFrameReady(frame *av.Frame) {
	atomic.AddUint64(&s.framesDecoded, 1)
	stats.DecodeStats.AddFrame()

	s.frameMu.Lock()
	n := 0
	s.consumptions.Range(func(key, value interface{}) bool {
		c := value.(*consumption)
		if c.send(frame) {
			n++
		}
		return true
	})
	if n > 0 {
		s.pendingReturns[frame.Index] = n
		s.frameMu.Unlock()
		return
	}
	s.frameMu.Unlock()

	s.jobs.Push(job{kind: jobReturn, frame: frame.Index})
}

// OnEos 解码器已输出全部帧
func (s *Stream) OnEos() {
	s.logger.Info("stream reached end of stream")
	stats.DecodeStats.AddEos()
	s.consumptions.Range(func(key, value interface{}) bool {
		value.(*consumption).consumer.OnEos()
		return true
	})
}

// OnError 解码器致命错误
func (s *Stream) OnError(err error) {
	s.logger.Errorf("stream decode error: %v", err)
	stats.DecodeStats.AddError()
	s.consumptions.Range(func(key, value interface{}) bool {
		value.(*consumption).consumer.OnError(err)
		return true
	})
}

// doneFrame 一个消费者完成了一帧，计数归零后归还解码器
func (s *Stream) doneFrame(frame *av.Frame) {
	s.frameMu.Lock()
	n := s.pendingReturns[frame.Index] - 1
	if n > 0 {
		s.pendingReturns[frame.Index] = n
		s.frameMu.Unlock()
		return
	}
	delete(s.pendingReturns, frame.Index)
	s.frameMu.Unlock()

	s.jobs.Push(job{kind: jobReturn, frame: frame.Index})
}

// serveJobs 流自己的任务协程：把解码器的异步请求转成
// 引擎锁下的调用，串行且不在中断路径上
func (s *Stream) serveJobs() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("stream job routine panic; r = %v \n %s", r, debug.Stack())
		}
		// 尽早通知GC，回收内存
		s.jobs.Reset()
	}()

	for atomic.LoadInt32(&s.status) == StreamOK {
		ji := s.jobs.Pop()
		if ji == nil {
			continue
		}

		j := ji.(job)
		switch j.kind {
		case jobPump:
			s.engine.Lock()
			s.dec.PumpDecoder()
			s.engine.Unlock()
		case jobInput:
			s.engine.Lock()
			s.dec.ReceivedNewInput()
			s.engine.Unlock()
		case jobReturn:
			s.engine.Lock()
			s.dec.ReturnedFrame(j.frame)
			s.engine.Unlock()
		case jobReset:
			s.logger.Warn("stream reset requested, closing")
			Unregist(s)
		}
	}
}

func (s *Stream) freeFrames() {
	s.frameMu.Lock()
	frames := s.frames
	s.frames = nil
	s.pendingReturns = make(map[int]int)
	s.frameMu.Unlock()

	for _, f := range frames {
		if f.Buffer != nil {
			f.Buffer.Free()
		}
	}
}

func (s *Stream) startConsume(consumer Consumer, consumerType ConsumerType, extra string) CID {
	c := newConsumption(s, consumer, consumerType, extra)

	// 注册必须和帧计数互斥，避免半路插入的消费者漏记引用
	s.frameMu.Lock()
	s.consumptions.Add(c)
	s.frameMu.Unlock()

	go c.consume()
	return c.cid
}

// StartConsume 开始消费解码输出帧
func (s *Stream) StartConsume(consumer Consumer, consumerType ConsumerType, extra string) CID {
	return s.startConsume(consumer, consumerType, extra)
}

// StopConsume 停止消费
func (s *Stream) StopConsume(cid CID) {
	c := s.consumptions.Remove(cid)
	if c != nil {
		c.Close()
	}
}

// ConsumerCount 流消费者计数
func (s *Stream) ConsumerCount() int {
	return s.consumptions.Count()
}

// StreamInfo 流信息
type StreamInfo struct {
	StartOn          string            `json:"start_on"`
	Path             string            `json:"path"`
	Addr             string            `json:"addr"`
	Size             int               `json:"size"`
	FramesDecoded    int               `json:"frames_decoded"`
	Video            *av.VideoMeta     `json:"video,omitempty"`
	ConsumptionCount int               `json:"cc"`
	Consumptions     []ConsumptionInfo `json:"cs,omitempty"`
}

// Info 获取流信息
func (s *Stream) Info(includeCS bool) *StreamInfo {
	si := &StreamInfo{
		StartOn:          s.startOn.Format(time.RFC3339Nano),
		Path:             s.path,
		Addr:             s.Attr("addr"),
		Size:             int(atomic.LoadUint64(&s.size) / 1024),
		FramesDecoded:    int(atomic.LoadUint64(&s.framesDecoded)),
		ConsumptionCount: s.consumptions.Count(),
	}

	if len(s.Video.Codec) != 0 {
		si.Video = &s.Video
	}
	if includeCS {
		si.Consumptions = s.consumptions.Infos()
	}
	return si
}

// GetConsumption 获取指定消费信息
func (s *Stream) GetConsumption(cid CID) (ConsumptionInfo, bool) {
	c, ok := s.consumptions.Load(cid)
	if ok {
		return c.(*consumption).Info(), ok
	}
	return ConsumptionInfo{}, false
}
