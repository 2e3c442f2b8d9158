// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

import (
	"github.com/cnotch/xlog"
)

// HevcCore HEVC/VP9 解码核。
// 与 vdec1 指令集不同但握手协议一致，支持输入上下文换入换出。
type HevcCore struct {
	coreBase
}

// NewHevcCore 创建 hevc 核
func NewHevcCore(backend Backend, allocator Allocator) *HevcCore {
	return &HevcCore{
		coreBase: coreBase{
			coreType:  CoreHevc,
			backend:   backend,
			allocator: allocator,
			logger:    xlog.L().With(xlog.Fields(xlog.F("core", "hevc"))),
		},
	}
}

// LoadFirmware DMA 固件到核内指令存储
func (c *HevcCore) LoadFirmware(data []byte) error {
	buf, err := stageFirmware(c.allocator, data)
	if err != nil {
		return err
	}
	defer buf.Free()

	return c.loadFirmware(buf.PhysBase(), len(data))
}

// StartDecoding 启动解码，幂等
func (c *HevcCore) StartDecoding() {
	if c.decoding {
		return
	}
	c.decoding = true
	c.backend.WriteReg(c.coreType, RegMpsr, 1)
}

// StopDecoding 停止解码，未启动时是空操作
func (c *HevcCore) StopDecoding() {
	if !c.decoding {
		return
	}
	c.decoding = false
	c.backend.WriteReg(c.coreType, RegMpsr, 0)
}

// WaitForIdle hevc 核只有图像 DC 需要显式静默
func (c *HevcCore) WaitForIdle() {
	c.waitUnitIdle(RegPicDcStatus, RegPicDcCtrl, "picture dc")
}

// InitializeStreamInput 解析器路径的码流输入初始化
func (c *HevcCore) InitializeStreamInput(base uint64, size uint32) {
	c.initializeInput(base, size, true)
}

// InitializeDirectInput CPU 直写路径的码流输入初始化
func (c *HevcCore) InitializeDirectInput(base uint64, size uint32) {
	c.initializeInput(base, size, false)
}

// UpdateWriteOffset 推进硬件写指针到 base+offset
func (c *HevcCore) UpdateWriteOffset(offset uint32) {
	c.backend.WriteReg(c.coreType, RegVifoWP, uint32(c.base)+offset)
}

// StreamInputOffset 硬件写指针相对基址的偏移
func (c *HevcCore) StreamInputOffset() uint32 {
	return c.backend.ReadReg(c.coreType, RegVifoWP) - uint32(c.base)
}

// ReadOffset 硬件读指针相对基址的偏移
func (c *HevcCore) ReadOffset() uint32 {
	return c.backend.ReadReg(c.coreType, RegVifoRP) - uint32(c.base)
}

// SaveInputContext 保存码流解析状态快照
func (c *HevcCore) SaveInputContext(ctx *InputContext) error {
	return c.swapContext(ctx, SwapSave)
}

// RestoreInputContext 恢复码流解析状态快照
func (c *HevcCore) RestoreInputContext(ctx *InputContext) error {
	return c.swapContext(ctx, SwapRestore)
}
