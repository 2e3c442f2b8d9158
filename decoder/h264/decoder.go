// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package h264 实现 H264 流的解码状态机。
// 硬件做像素解码，参考帧簿记、POC 计算和 MMCO 全在软件：
// 每个片头中断把参数块译回合成 NAL 单元喂给软件跟踪器。
package h264

import (
	"bytes"
	"errors"
	"fmt"
	mathbits "math/bits"

	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/av/h264"
	"github.com/cnotch/vdechub/decoder"
	"github.com/cnotch/vdechub/hw"
	"github.com/cnotch/vdechub/utils"
	"github.com/cnotch/xlog"
)

// 流自己的状态，与调度器的当前/换出概念正交
type streamState int

const (
	stateSwappedOut streamState = iota
	stateWaitingForInputOrOutput
	stateRunning
	stateWaitingForConfigChange
)

func (s streamState) String() string {
	switch s {
	case stateSwappedOut:
		return "swapped-out"
	case stateWaitingForInputOrOutput:
		return "waiting-for-input-or-output"
	case stateRunning:
		return "running"
	case stateWaitingForConfigChange:
		return "waiting-for-config-change"
	default:
		return "unknown"
	}
}

// 硬件中断状态码
const (
	statusSliceHeadDone  = 0x1 // 片头参数块已写入 lmem，固件暂停等软件
	statusPicDataDone    = 0x2 // 一幅图像的像素解码完成
	statusBufEmpty       = 0x3 // 图像中途码流耗尽
	statusSearchBufEmpty = 0x4 // 起始码搜索阶段码流耗尽
)

const (
	firmwareName  = "vdec1_h264"
	maxFrameCount = 24
	// eosPaddingSize 流尾垫片，把解析器推过最后一个访问单元
	eosPaddingSize = 512
)

var errNoProgress = errors.New("h264: no progress across retry, stream stuck")

// Config 解码器的构造依赖，引擎注入的能力在这里成束传入
type Config struct {
	Scheduler decoder.Scheduler
	Source    decoder.FrameSource
	Sink      decoder.FrameSink
	Buffer    *decoder.StreamBuffer
	Backend   hw.Backend
	Allocator hw.Allocator
	Firmware  hw.FirmwareSource
	// Protection 换入时的保护内存配置，可为 nil
	Protection func() error
	Logger     *xlog.Logger
}

// Decoder H264 流解码状态机，实现 decoder.StreamDecoder。
// 所有方法都要求调用方持有引擎锁。
type Decoder struct {
	scheduler  decoder.Scheduler
	source     decoder.FrameSource
	sink       decoder.FrameSink
	buffer     *decoder.StreamBuffer
	backend    hw.Backend
	firmware   hw.FirmwareSource
	protection func() error
	logger     *xlog.Logger

	tracker *h264.Tracker
	lmem    hw.PhysBuffer

	state streamState
	fatal bool

	sawEos       bool // 客户端已送入流尾标记
	eosDelivered bool // OnEos 已投递，流不再可调度

	waitingForSurfaces bool
	waitingForInput    bool
	forceSwapOut       bool
	shouldSave         bool
	inPump             bool
	pumpScheduled      bool

	// 环形缓冲的展开偏移。ringBits = log2(缓冲尺寸)。
	ringBits    uint
	writeOffset uint64 // 已写入的总字节数
	lastRead    uint64 // 最近观察到的读指针展开值
	checkpoint  uint64 // 最近一次保存检查点时的读指针，回退重试的回滚点

	// 无前进守卫：同一 (读偏移, 写偏移) 对第二次尝试即致命
	attemptValid bool
	attemptRead  uint64
	attemptWrite uint64

	// 当前图像的尝试状态，回退重试期间必须存活
	picInProgress  bool
	picFrameIndex  int
	curHdr         *h264.SliceHeader
	highestFirstMb uint32
	lastSliceNalu  []byte

	lastSpsNal []byte
	lastPpsNal []byte

	frames     []*av.Frame
	withClient map[int]bool
	codedW     int
	codedH     int

	ptsQueue   []ptsEntry
	ptsByIndex map[int]ptsEntry

	pendingInput   []byte // 环满时未写完的输入
	pendingPadding int    // pendingInput 尾部属于流尾垫片的字节数
}

type ptsEntry struct {
	pts int64
	has bool
}

// NewDecoder 创建解码器并分配参数块中转缓冲。
// 码流缓冲尺寸必须是 2 的幂，读指针展开依赖这一点。
func NewDecoder(cfg Config) (*Decoder, error) {
	size := cfg.Buffer.Size()
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("h264: stream buffer size must be a power of two: %d", size)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = xlog.L()
	}

	lmem, err := cfg.Allocator.Allocate("h264-lmem", lmemSize, 64,
		hw.AllocOptions{Writable: true, Mapping: true})
	if err != nil {
		return nil, fmt.Errorf("h264: allocate parameter buffer: %w", err)
	}

	return &Decoder{
		scheduler:  cfg.Scheduler,
		source:     cfg.Source,
		sink:       cfg.Sink,
		buffer:     cfg.Buffer,
		backend:    cfg.Backend,
		firmware:   cfg.Firmware,
		protection: cfg.Protection,
		logger:     logger,
		tracker:    h264.NewTracker(),
		lmem:       lmem,
		ringBits:   uint(mathbits.TrailingZeros(uint(size))),
		withClient: make(map[int]bool),
		ptsByIndex: make(map[int]ptsEntry),
	}, nil
}

// Free 释放参数块缓冲
func (d *Decoder) Free() {
	if d.lmem != nil {
		d.lmem.Free()
		d.lmem = nil
	}
}

// CoreType H264 绑定通用 VLD 核
func (d *Decoder) CoreType() hw.CoreType { return hw.CoreVdec1 }

// SetupProtection 换入时的保护内存配置
func (d *Decoder) SetupProtection() error {
	if d.protection == nil {
		return nil
	}
	return d.protection()
}

// InitializeHardware 每次换入都重灌固件并编程参数块地址
func (d *Decoder) InitializeHardware() error {
	blob, err := d.firmware.FirmwareBlob(firmwareName)
	if err != nil {
		return fmt.Errorf("h264: load firmware: %w", err)
	}
	core := d.scheduler.Core(hw.CoreVdec1)
	if err := core.LoadFirmware(blob); err != nil {
		return err
	}

	d.backend.WriteReg(hw.CoreVdec1, hw.RegDecodeParam, uint32(d.lmem.PhysBase()))
	d.backend.WriteReg(hw.CoreVdec1, hw.RegBuffersReady, uint32(len(d.frames)))
	return nil
}

// SwappedIn 换入完成。恢复把读指针带回检查点、写指针推进到最新值，
// 然后请求泵循环在引擎锁外重新进入。
func (d *Decoder) SwappedIn() {
	core := d.scheduler.Core(hw.CoreVdec1)
	d.lastRead = d.checkpoint
	if d.writeOffset > 0 {
		core.UpdateWriteOffset(uint32(d.writeOffset & d.ringMask()))
	}

	d.state = stateWaitingForInputOrOutput
	d.pumpScheduled = true
	d.source.AsyncPumpDecoder()
}

// SetSwappedOut 即将换出，收起调度标志
func (d *Decoder) SetSwappedOut() {
	d.state = stateSwappedOut
	d.forceSwapOut = false
	d.shouldSave = false
}

// ShouldSaveInputContext 是否保存解析检查点。
// 回退重试返回 false：旧检查点保持为回滚点。
func (d *Decoder) ShouldSaveInputContext() bool { return d.shouldSave }

// CanBeSwappedOut 图像中途不可打断，强制让出短路为真
func (d *Decoder) CanBeSwappedOut() bool {
	if d.forceSwapOut {
		return true
	}
	return d.state == stateWaitingForInputOrOutput && !d.inPump && !d.pumpScheduled
}

// MustBeSwappedOut 强制让出
func (d *Decoder) MustBeSwappedOut() bool { return d.forceSwapOut }

// CanBeSwappedIn 未致命出错、未到流尾、不缺表面和输入
func (d *Decoder) CanBeSwappedIn() bool {
	return !d.fatal && !d.eosDelivered && !d.waitingForSurfaces && !d.waitingForInput
}

// OnFatalError 标记流永久不可调度
func (d *Decoder) OnFatalError() { d.fatal = true }

// OnSignaledWatchdog 硬件卡死：强制复位后按流失败处理
func (d *Decoder) OnSignaledWatchdog() {
	core := d.scheduler.Core(hw.CoreVdec1)
	core.StopDecoding()
	core.WaitForIdle()
	d.failStream(errors.New("h264: hardware watchdog timeout"))
}

// HandleInterrupt 当前流期间的硬件中断分发
func (d *Decoder) HandleInterrupt(status uint32) {
	switch status {
	case statusSliceHeadDone:
		d.handleSliceHeadDone()
	case statusPicDataDone:
		d.handlePicDataDone()
	case statusBufEmpty, statusSearchBufEmpty:
		d.handleBufEmpty()
	default:
		d.logger.Warnf("h264: unknown interrupt status 0x%x", status)
	}
}

// handleSliceHeadDone 片头中断。固件已把参数块 DMA 到 lmem 并暂停，
// 软件把它译成合成 NAL 做参考帧簿记，然后放行硬件。
func (d *Decoder) handleSliceHeadDone() {
	d.scheduler.Watchdog().Cancel()

	d.lmem.Invalidate(0, lmemSize)
	sps, pps, sh, err := decodeSliceParams(d.lmem.Bytes())
	if err != nil {
		d.failStream(err)
		return
	}
	sliceNal := h264.EncodeSliceHeader(sh, sps, pps)

	if d.picInProgress {
		d.continuePicture(sh, sliceNal)
		return
	}
	d.beginPicture(sps, pps, sh, sliceNal)
}

// continuePicture 已开始图像的后续片头。
// first_mb_in_slice 单调递增；与最高值相等且内容逐字节一致的片
// 是回退重试的重放，静默接受；其余非递增都是坏流。
func (d *Decoder) continuePicture(sh *h264.SliceHeader, sliceNal []byte) {
	switch {
	case sh.FirstMbInSlice == d.highestFirstMb:
		if !bytes.Equal(sliceNal, d.lastSliceNalu) {
			d.failStream(fmt.Errorf("h264: replayed slice at mb %d differs from previous attempt",
				sh.FirstMbInSlice))
			return
		}
		d.resumeHardware()
		return
	case sh.FirstMbInSlice < d.highestFirstMb:
		d.failStream(fmt.Errorf("h264: first_mb_in_slice went backwards: %d after %d",
			sh.FirstMbInSlice, d.highestFirstMb))
		return
	}

	if !d.curHdr.SamePicture(sh) {
		d.failStream(fmt.Errorf("h264: new picture at mb %d before previous one finished",
			sh.FirstMbInSlice))
		return
	}
	if sh.SliceType == h264.SliceTypeP || sh.SliceType == h264.SliceTypeB {
		if _, _, err := d.tracker.ReferenceLists(sh); err != nil {
			d.failStream(err)
			return
		}
	}

	d.highestFirstMb = sh.FirstMbInSlice
	d.lastSliceNalu = sliceNal
	d.resumeHardware()
}

// beginPicture 新图像的首个片头：登记参数集、按需重配输出帧、
// 占一块空闲帧后交给跟踪器开图。
func (d *Decoder) beginPicture(sps *h264.SPS, pps *h264.PPS, sh *h264.SliceHeader, sliceNal []byte) {
	if sh.FirstMbInSlice != 0 {
		d.failStream(fmt.Errorf("h264: picture starts at mb %d", sh.FirstMbInSlice))
		return
	}

	if err := d.submitParamSets(sps, pps); err != nil {
		d.failStream(err)
		return
	}
	// 范围校验统一走标准片头解析
	if _, err := h264.DecodeSliceHeader(sliceNal, d.tracker); err != nil {
		d.failStream(err)
		return
	}

	active := d.tracker.ActiveSPS()
	if len(d.frames) == 0 || active.CodedWidth() != d.codedW || active.CodedHeight() != d.codedH {
		if !d.configureDpb(active) {
			return
		}
	}

	idx, ok := d.findFreeFrame()
	if !ok {
		// 所有输出帧都被占用：按回退重试让出，客户端归还帧后重放本片头
		d.waitingForSurfaces = true
		d.rewind()
		return
	}

	if err := d.tracker.BeginPicture(sh, idx); err != nil {
		d.failStream(err)
		return
	}
	if sh.SliceType == h264.SliceTypeP || sh.SliceType == h264.SliceTypeB {
		if _, _, err := d.tracker.ReferenceLists(sh); err != nil {
			d.failStream(err)
			return
		}
	}

	d.picInProgress = true
	d.picFrameIndex = idx
	d.curHdr = sh
	d.highestFirstMb = 0
	d.lastSliceNalu = sliceNal
	d.resumeHardware()
}

// submitParamSets 仅在合成 NAL 内容变化时向跟踪器重新登记
func (d *Decoder) submitParamSets(sps *h264.SPS, pps *h264.PPS) error {
	spsNal := h264.EncodeSPS(sps)
	if !bytes.Equal(spsNal, d.lastSpsNal) {
		if err := d.tracker.DecodeParamSet(spsNal); err != nil {
			return err
		}
		d.lastSpsNal = spsNal
	}

	ppsNal := h264.EncodePPS(pps)
	if !bytes.Equal(ppsNal, d.lastPpsNal) {
		if err := d.tracker.DecodeParamSet(ppsNal); err != nil {
			return err
		}
		d.lastPpsNal = ppsNal
	}
	return nil
}

// configureDpb 序列参数变化：向客户端申请新的输出帧集合。
// 返回真表示可以继续本片头；客户端异步分配时流先让出，
// InitializedFrames 到来后片头会被重放。
func (d *Decoder) configureDpb(sps *h264.SPS) bool {
	minCount := int(sps.MaxNumRefFrames) + 2
	codedW, codedH := sps.CodedWidth(), sps.CodedHeight()

	frames, err := d.sink.InitializeFrames(minCount, maxFrameCount,
		codedW, codedH, codedW, sps.Width(), sps.Height(),
		sps.AspectRatioInfo, sps.SarWidth, sps.SarHeight)
	if err != nil {
		d.failStream(fmt.Errorf("h264: initialize frames: %w", err))
		return false
	}

	d.codedW, d.codedH = codedW, codedH
	if frames == nil {
		d.waitingForSurfaces = true
		d.state = stateWaitingForConfigChange
		d.forceSwapOut = true
		d.shouldSave = false
		d.scheduler.TryToReschedule()
		return false
	}

	d.adoptFrames(frames)
	return true
}

func (d *Decoder) adoptFrames(frames []*av.Frame) {
	d.frames = frames
	d.withClient = make(map[int]bool)
	d.ptsByIndex = make(map[int]ptsEntry)
	if d.scheduler.Current() == d {
		d.backend.WriteReg(hw.CoreVdec1, hw.RegBuffersReady, uint32(len(frames)))
	}
}

// InitializedFrames 客户端完成输出帧分配后的回调。要求已持锁。
func (d *Decoder) InitializedFrames(frames []*av.Frame) {
	d.adoptFrames(frames)
	d.waitingForSurfaces = false
	if d.state == stateWaitingForConfigChange {
		d.state = stateWaitingForInputOrOutput
	}
	d.wake()
}

// ReturnedFrame 客户端归还一块输出帧。要求已持锁。
func (d *Decoder) ReturnedFrame(index int) {
	delete(d.withClient, index)
	if d.waitingForSurfaces && d.state != stateWaitingForConfigChange {
		d.waitingForSurfaces = false
		d.wake()
	}
}

// ReceivedNewInput 客户端送入新数据后的通知。要求已持锁。
func (d *Decoder) ReceivedNewInput() {
	if d.fatal || d.eosDelivered {
		return
	}
	d.waitingForInput = false
	d.wake()
}

// wake 让流重新前进：是当前流就重入泵循环，否则参与调度
func (d *Decoder) wake() {
	if d.fatal || d.eosDelivered {
		return
	}
	if d.scheduler.Current() == d {
		d.pumpScheduled = true
		d.source.AsyncPumpDecoder()
		return
	}
	d.scheduler.TryToReschedule()
}

func (d *Decoder) findFreeFrame() (int, bool) {
	live := make(map[int]bool)
	for _, idx := range d.tracker.LiveIndices() {
		live[idx] = true
	}
	for i := range d.frames {
		if !live[i] && !d.withClient[i] {
			return i, true
		}
	}
	return 0, false
}

// handlePicDataDone 一幅图像解码完成：结束簿记、投递可输出帧，
// 然后强制一次保存检查点的让出。相同流立即换回时从新检查点继续。
func (d *Decoder) handlePicDataDone() {
	d.scheduler.Watchdog().Cancel()

	outputs, err := d.tracker.FinishPicture()
	if err != nil {
		d.failStream(err)
		return
	}
	d.ptsByIndex[d.picFrameIndex] = d.popPts()
	d.deliverOutputs(outputs)

	d.picInProgress = false
	d.curHdr = nil
	d.lastSliceNalu = nil
	d.highestFirstMb = 0
	d.attemptValid = false

	d.lastRead = d.readOffset()
	d.checkpoint = d.lastRead

	d.state = stateWaitingForInputOrOutput
	d.forceSwapOut = true
	d.shouldSave = true
	d.scheduler.TryToReschedule()
}

// handleBufEmpty 码流耗尽。流尾则冲洗输出；否则回退重试：
// 不保存地让出，旧检查点保持为回滚点，图像尝试状态原样保留。
func (d *Decoder) handleBufEmpty() {
	d.scheduler.Watchdog().Cancel()
	d.lastRead = d.readOffset()

	if d.sawEos && !d.source.HasMoreInputData() && len(d.pendingInput) == 0 {
		if d.picInProgress {
			if outputs, err := d.tracker.FinishPicture(); err == nil {
				d.ptsByIndex[d.picFrameIndex] = d.popPts()
				d.deliverOutputs(outputs)
			}
			d.picInProgress = false
			d.curHdr = nil
			d.lastSliceNalu = nil
		}
		d.deliverOutputs(d.tracker.Flush())
		d.sink.OnEos()
		d.eosDelivered = true

		d.state = stateWaitingForInputOrOutput
		d.forceSwapOut = true
		d.shouldSave = false
		d.scheduler.TryToReschedule()
		return
	}

	d.waitingForInput = !d.source.HasMoreInputData() && len(d.pendingInput) == 0
	d.rewind()
}

// rewind 回退重试的让出：不保存检查点
func (d *Decoder) rewind() {
	d.state = stateWaitingForInputOrOutput
	d.forceSwapOut = true
	d.shouldSave = false
	d.scheduler.TryToReschedule()
}

// resumeHardware 片头处理完毕，放行固件并重新布防看门狗
func (d *Decoder) resumeHardware() {
	d.backend.WriteReg(hw.CoreVdec1, hw.RegDecodeStart, 1)
	d.scheduler.Watchdog().Start()
}

// PumpDecoder 泵循环：搬输入进环形缓冲，有待解码数据就启动硬件。
// 经 AsyncPumpDecoder 延迟重入，结构上杜绝递归。要求已持锁。
func (d *Decoder) PumpDecoder() {
	if d.inPump {
		return
	}
	d.inPump = true
	defer func() { d.inPump = false }()
	d.pumpScheduled = false

	if d.fatal || d.eosDelivered {
		return
	}
	if d.scheduler.Current() != d {
		return
	}

	d.fillRing()
	if d.fatal || d.scheduler.Current() != d {
		return
	}

	if d.state == stateWaitingForInputOrOutput &&
		(d.writeOffset > d.lastRead || d.sawEos) {
		d.startFrameDecode()
	}
}

// fillRing 从客户端搬数据。环满时未写完的部分暂存，下轮泵继续。
// 可回收空间以检查点为界：检查点之后的数据回退重试还要重放，不能覆盖。
func (d *Decoder) fillRing() {
	wrote := false

	for {
		if len(d.pendingInput) > 0 {
			n := d.copyIn(d.pendingInput)
			if n == 0 {
				break
			}
			d.pendingInput = d.pendingInput[n:]
			wrote = true
			if len(d.pendingInput) > 0 {
				break
			}
			if d.pendingPadding > 0 {
				d.pendingPadding = 0
			}
			continue
		}
		if d.sawEos {
			break
		}

		item, ok := d.source.ReadMoreInputData()
		if !ok {
			break
		}
		if item.HasPts {
			d.ptsQueue = append(d.ptsQueue, ptsEntry{pts: item.Pts, has: true})
		}
		if item.Eos {
			d.sawEos = true
			d.queueEosPadding()
			continue
		}

		n := d.copyIn(item.Data)
		if n > 0 {
			wrote = true
		}
		if n < len(item.Data) {
			d.pendingInput = append([]byte(nil), item.Data[n:]...)
			break
		}
	}

	if wrote && !d.fatal && d.scheduler.Current() == d {
		d.waitingForInput = false
		core := d.scheduler.Core(hw.CoreVdec1)
		core.UpdateWriteOffset(uint32(d.writeOffset & d.ringMask()))
	}
}

// copyIn 把 data 尽量写进环形缓冲，返回写入的字节数
func (d *Decoder) copyIn(data []byte) int {
	size := uint64(d.buffer.Size())
	free := size - (d.writeOffset - d.checkpoint)
	if free == 0 {
		return 0
	}
	n := len(data)
	if uint64(n) > free {
		n = int(free)
	}

	if err := d.buffer.CopyIn(d.writeOffset&d.ringMask(), data[:n]); err != nil {
		d.failStream(err)
		return 0
	}
	d.writeOffset += uint64(n)
	d.buffer.SetDataSize(d.writeOffset)
	return n
}

// queueEosPadding 在最后一个访问单元后垫入流结束 NAL 加零填充
func (d *Decoder) queueEosPadding() {
	pad := make([]byte, eosPaddingSize)
	copy(pad, []byte{0x00, 0x00, 0x00, 0x01, h264.NalEndStream})
	d.pendingInput = append(d.pendingInput, pad...)
	d.pendingPadding = eosPaddingSize
	d.buffer.SetPaddingSize(eosPaddingSize)
}

// startFrameDecode 启动一轮硬件解码。
// 守卫真正的无前进：同一 (读偏移, 写偏移) 对的第二次尝试说明
// 重试不可能有不同结果（坏流，或客户端只供 PTS 不供数据），直接致命。
func (d *Decoder) startFrameDecode() {
	read := d.readOffset()
	d.lastRead = read

	if d.attemptValid && read == d.attemptRead && d.writeOffset == d.attemptWrite {
		d.failStream(errNoProgress)
		return
	}
	d.attemptValid = true
	d.attemptRead = read
	d.attemptWrite = d.writeOffset

	core := d.scheduler.Core(hw.CoreVdec1)
	d.state = stateRunning
	core.StartDecoding()
	d.scheduler.Watchdog().Start()
}

// failStream 本流的不可恢复错误：复位硬件、永久摘出调度，
// 请求客户端在当前访问单元后重建逻辑流。其他流不受影响。
func (d *Decoder) failStream(err error) {
	d.logger.Errorf("h264: stream failure in state %s: %v", d.state, err)
	d.scheduler.Watchdog().Cancel()

	if d.scheduler.Current() == d {
		core := d.scheduler.Core(hw.CoreVdec1)
		core.StopDecoding()
		core.WaitForIdle()
	}

	d.fatal = true
	d.state = stateWaitingForInputOrOutput
	d.forceSwapOut = true
	d.shouldSave = false

	d.sink.OnError(err)
	d.source.AsyncResetStreamAfterCurrentFrame()
	d.scheduler.TryToReschedule()
}

func (d *Decoder) deliverOutputs(outputs []h264.Output) {
	for _, out := range outputs {
		if out.FrameIndex < 0 || out.FrameIndex >= len(d.frames) {
			continue
		}
		frame := d.frames[out.FrameIndex]
		frame.Index = out.FrameIndex
		frame.Poc = out.Poc
		if e, ok := d.ptsByIndex[out.FrameIndex]; ok {
			frame.HasPts = e.has
			frame.Pts = uint64(e.pts)
			delete(d.ptsByIndex, out.FrameIndex)
		} else {
			frame.HasPts = false
		}

		d.withClient[out.FrameIndex] = true
		d.sink.OnFrameReady(frame)
	}
}

func (d *Decoder) popPts() ptsEntry {
	if len(d.ptsQueue) == 0 {
		return ptsEntry{}
	}
	e := d.ptsQueue[0]
	d.ptsQueue = d.ptsQueue[1:]
	return e
}

// readOffset 硬件读指针的展开值。寄存器只有环内偏移，
// 按最近已知值就近展开。
func (d *Decoder) readOffset() uint64 {
	core := d.scheduler.Core(hw.CoreVdec1)
	return utils.ExtendBits(d.lastRead, uint64(core.ReadOffset()), d.ringBits)
}

func (d *Decoder) ringMask() uint64 {
	return uint64(d.buffer.Size()) - 1
}
