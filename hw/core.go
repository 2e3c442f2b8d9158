// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

import (
	"sync"
	"time"

	"github.com/cnotch/xlog"
)

// DecoderCore 一个物理解码核。
// 除电源计数外，所有方法都要求调用方已持有上层调度锁并保证核已上电。
type DecoderCore interface {
	Type() CoreType

	IncrementPowerRef() error
	DecrementPowerRef()
	Powered() bool

	// LoadFirmware DMA 固件并等待完成，限时约 100ms
	LoadFirmware(data []byte) error

	// StartDecoding/StopDecoding 幂等
	StartDecoding()
	StopDecoding()
	DecodingStarted() bool

	// WaitForIdle 等待子单元静默；超时对该子单元强制复位，从不失败
	WaitForIdle()

	// InitializeStreamInput 解析器推进写指针；InitializeDirectInput CPU 直写。
	// 必须在上电且停止解码时调用。
	InitializeStreamInput(base uint64, size uint32)
	InitializeDirectInput(base uint64, size uint32)

	// 偏移均相对环形缓冲基址
	UpdateWriteOffset(offset uint32)
	StreamInputOffset() uint32
	ReadOffset() uint32

	// SaveInputContext/RestoreInputContext 通过固定尺寸中转缓冲 DMA 交换解析状态。
	// 不支持的核返回 ErrNotSupported；超时对本次交换致命，不被掩盖。
	SaveInputContext(ctx *InputContext) error
	RestoreInputContext(ctx *InputContext) error
}

// 硬件收敛等待的限定
const (
	dmaTimeout  = 100 * time.Millisecond
	idleTimeout = 100 * time.Millisecond
	pollStep    = 10 * time.Microsecond
)

// coreBase 两个核共享的实现
type coreBase struct {
	coreType  CoreType
	backend   Backend
	allocator Allocator
	logger    *xlog.Logger

	powerLock sync.Mutex // 独立于调度锁，见 powerState
	power     powerState

	decoding bool

	// 当前绑定的码流环形缓冲
	base uint64
	size uint32
}

func (c *coreBase) Type() CoreType { return c.coreType }

func (c *coreBase) DecodingStarted() bool { return c.decoding }

// LoadFirmware 固件 DMA 公共路径
func (c *coreBase) loadFirmware(base uint64, size int) error {
	c.backend.WriteReg(c.coreType, RegImemDmaAdr, uint32(base))
	c.backend.WriteReg(c.coreType, RegImemDmaLen, uint32(size/4))
	c.backend.WriteReg(c.coreType, RegImemDmaCtrl, DmaBusy)

	return c.waitReg(RegImemDmaCtrl, DmaBusy, 0, dmaTimeout)
}

// waitReg 自旋等待 reg&mask == want，限时 timeout。
// 自旋发生在调度锁内，上限约 100ms，是接受的取舍。
func (c *coreBase) waitReg(r Reg, mask, want uint32, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for c.backend.ReadReg(c.coreType, r)&mask != want {
		if time.Now().After(deadline) {
			return ErrTimedOut
		}
		time.Sleep(pollStep)
	}
	return nil
}

// waitUnitIdle 等待单个子单元静默，超时强制复位
func (c *coreBase) waitUnitIdle(status Reg, ctrl Reg, name string) {
	if err := c.waitReg(status, UnitBusy, 0, idleTimeout); err != nil {
		c.logger.Warnf("%s: %s not idle, forcing reset.", c.coreType, name)
		c.backend.WriteReg(c.coreType, ctrl, 0)
	}
}

// swapContext 输入上下文 DMA 交换公共路径
func (c *coreBase) swapContext(ctx *InputContext, dir uint32) error {
	c.backend.WriteReg(c.coreType, RegSwapAddr, uint32(ctx.Buffer.PhysBase()))
	c.backend.WriteReg(c.coreType, RegSwapCtrl, dir|DmaBusy)

	if err := c.waitReg(RegSwapCtrl, DmaBusy, 0, dmaTimeout); err != nil {
		return err
	}
	if dir == SwapSave {
		ctx.Buffer.Invalidate(0, ctx.Buffer.Size())
	}
	return nil
}

// 默认不支持上下文换入换出，需要的核自行覆盖
func (c *coreBase) SaveInputContext(*InputContext) error    { return ErrNotSupported }
func (c *coreBase) RestoreInputContext(*InputContext) error { return ErrNotSupported }

func (c *coreBase) initializeInput(base uint64, size uint32, useParser bool) {
	control := VifoReset
	if useParser {
		control |= VifoUseParser
	}

	c.backend.WriteReg(c.coreType, RegVifoControl, control)
	c.backend.WriteReg(c.coreType, RegVifoStartPtr, uint32(base))
	c.backend.WriteReg(c.coreType, RegVifoEndPtr, uint32(base)+size-8)
	c.backend.WriteReg(c.coreType, RegVifoCurrPtr, uint32(base))
	c.backend.WriteReg(c.coreType, RegVifoWP, uint32(base))
	c.backend.WriteReg(c.coreType, RegVifoRP, uint32(base))
	// 清状态位，FIFO 生效
	c.backend.WriteReg(c.coreType, RegVifoBufCntl, 0)
	c.backend.WriteReg(c.coreType, RegVifoControl, control&^VifoReset)

	c.base = base
	c.size = size
}
