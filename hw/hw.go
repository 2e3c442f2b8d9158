// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hw 抽象视频解码引擎硬件：寄存器访问、电源、DMA 缓冲和固件，
// 物理层(MMIO位布局、sysmem协商、TEE)由外部后端实现。
package hw

import (
	"errors"
)

// 错误定义
var (
	// ErrTimedOut 硬件在限定时间内未收敛
	ErrTimedOut = errors.New("hw: timed out")
	// ErrNotSupported 当前核不支持该操作
	ErrNotSupported = errors.New("hw: not supported")
	// ErrNotPowered 核未上电
	ErrNotPowered = errors.New("hw: core is not powered")
)

// CoreType 物理解码核类型
type CoreType int

// 预定义的两个物理核
const (
	CoreVdec1 CoreType = iota // 通用 VLD 核
	CoreHevc                  // HEVC/VP9 核
	CoreCount
)

// String 类型的字串表示
func (t CoreType) String() string {
	switch t {
	case CoreVdec1:
		return "vdec1"
	case CoreHevc:
		return "hevc"
	default:
		return "unknown"
	}
}

// Reg 符号寄存器。具体位布局属于后端，这里只按名字寻址。
type Reg uint32

// 两个核共用的符号寄存器集合
const (
	RegMpsr Reg = iota // 解码启停
	RegCpsr
	RegImemDmaAdr // 固件 DMA
	RegImemDmaLen
	RegImemDmaCtrl
	RegVifoStartPtr // 码流环形缓冲
	RegVifoEndPtr
	RegVifoCurrPtr
	RegVifoWP
	RegVifoRP
	RegVifoControl
	RegVifoBufCntl
	RegSwapAddr // 输入上下文换入换出
	RegSwapCtrl
	RegPicDcStatus // 三个需要静默的子单元
	RegPicDcCtrl
	RegDblkStatus
	RegDblkCtrl
	RegDcacDmaCtrl
	RegSwReset
	RegDecodeParam
	RegBuffersReady
	RegDecodeStart
	RegMailbox // 固件→软件的中断命令信箱，读后写 0 应答
)

// 控制位约定（后端按名字解释，这里只定义握手语义）
const (
	// DmaBusy 固件/上下文 DMA 进行中
	DmaBusy = uint32(0x8000)
	// UnitBusy 子单元忙
	UnitBusy = uint32(0x1)
	// VifoReset 码流 FIFO 复位
	VifoReset = uint32(1 << 6)
	// VifoUseParser 写指针由解析器硬件推进
	VifoUseParser = uint32(1 << 2)
	// SwapSave / SwapRestore 上下文方向
	SwapSave    = uint32(0x1)
	SwapRestore = uint32(0x2)
)

// StreamBufferReadAlignment 码流缓冲尺寸的硬件读对齐约束
const StreamBufferReadAlignment = 512

// Backend 物理寄存器与电源后端。
// 由平台驱动或测试桩实现；所有方法都可能在持有上层调度锁的情况下被调用，
// 不得回调上层。
type Backend interface {
	WriteReg(core CoreType, r Reg, v uint32)
	ReadReg(core CoreType, r Reg) uint32
	// PowerOn/PowerOff 电气级门控，由电源引用计数在 0/1 边界调用
	PowerOn(core CoreType) error
	PowerOff(core CoreType)
	// Interrupts 返回核的中断投递通道，元素为固件命令号
	Interrupts(core CoreType) <-chan uint32
}
