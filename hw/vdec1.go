// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

import (
	"github.com/cnotch/xlog"
)

// Vdec1Core 通用 VLD 解码核，承载 H264/MPEG 族。
// 支持输入上下文换入换出（多流 H264 需要）。
type Vdec1Core struct {
	coreBase
}

// NewVdec1Core 创建 vdec1 核
func NewVdec1Core(backend Backend, allocator Allocator) *Vdec1Core {
	return &Vdec1Core{
		coreBase: coreBase{
			coreType:  CoreVdec1,
			backend:   backend,
			allocator: allocator,
			logger:    xlog.L().With(xlog.Fields(xlog.F("core", "vdec1"))),
		},
	}
}

// LoadFirmware DMA 固件到核内指令存储
func (c *Vdec1Core) LoadFirmware(data []byte) error {
	buf, err := stageFirmware(c.allocator, data)
	if err != nil {
		return err
	}
	defer buf.Free()

	return c.loadFirmware(buf.PhysBase(), len(data))
}

// StartDecoding 启动解码，幂等
func (c *Vdec1Core) StartDecoding() {
	if c.decoding {
		return
	}
	c.decoding = true
	c.backend.WriteReg(c.coreType, RegMpsr, 1)
}

// StopDecoding 停止解码，未启动时是空操作
func (c *Vdec1Core) StopDecoding() {
	if !c.decoding {
		return
	}
	c.decoding = false
	c.backend.WriteReg(c.coreType, RegMpsr, 0)
	c.backend.WriteReg(c.coreType, RegCpsr, 0)
}

// WaitForIdle 等待图像DC、去块滤波、DCAC-DMA 三个子单元静默
func (c *Vdec1Core) WaitForIdle() {
	c.waitUnitIdle(RegPicDcStatus, RegPicDcCtrl, "picture dc")
	c.waitUnitIdle(RegDblkStatus, RegDblkCtrl, "deblock")
	c.waitUnitIdle(RegDcacDmaCtrl, RegDcacDmaCtrl, "dcac dma")
}

// InitializeStreamInput 解析器路径的码流输入初始化
func (c *Vdec1Core) InitializeStreamInput(base uint64, size uint32) {
	c.initializeInput(base, size, true)
}

// InitializeDirectInput CPU 直写路径的码流输入初始化
func (c *Vdec1Core) InitializeDirectInput(base uint64, size uint32) {
	c.initializeInput(base, size, false)
}

// UpdateWriteOffset 推进硬件写指针到 base+offset
func (c *Vdec1Core) UpdateWriteOffset(offset uint32) {
	c.backend.WriteReg(c.coreType, RegVifoWP, uint32(c.base)+offset)
}

// StreamInputOffset 硬件写指针相对基址的偏移
func (c *Vdec1Core) StreamInputOffset() uint32 {
	return c.backend.ReadReg(c.coreType, RegVifoWP) - uint32(c.base)
}

// ReadOffset 硬件读指针相对基址的偏移
func (c *Vdec1Core) ReadOffset() uint32 {
	return c.backend.ReadReg(c.coreType, RegVifoRP) - uint32(c.base)
}

// SaveInputContext 保存码流解析状态快照
func (c *Vdec1Core) SaveInputContext(ctx *InputContext) error {
	return c.swapContext(ctx, SwapSave)
}

// RestoreInputContext 恢复码流解析状态快照
func (c *Vdec1Core) RestoreInputContext(ctx *InputContext) error {
	return c.swapContext(ctx, SwapRestore)
}
