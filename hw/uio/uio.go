// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package uio 是 hw.Backend/hw.Allocator 的 Linux UIO 实现。
// 每个解码核对应一个 UIO 设备：map0 是寄存器窗口，按 hw.Reg
// 符号序号做字下标寻址（布局由平台 shim 保证）；vdec1 设备的
// map1 是 DMA 碰出区，缓冲分配器在其上做首次适应分配。
// 中断经 UIO 事件计数投递，命令号从信箱寄存器取出并应答。
package uio

import (
	"fmt"
	"path/filepath"

	"github.com/cnotch/vdechub/hw"
)

// Platform 已打开的平台设备集合
type Platform struct {
	backend   *uioBackend
	allocator *poolAllocator
}

// Open 打开两个核的 UIO 设备并映射 DMA 碰出区。
// hevc 可为空串，此时 HEVC 核的寄存器访问为空操作、不产生中断。
func Open(vdec1, hevc string) (*Platform, error) {
	b := &uioBackend{}

	dev, err := openDevice(vdec1)
	if err != nil {
		return nil, fmt.Errorf("uio: open vdec1 device; %w", err)
	}
	b.cores[hw.CoreVdec1] = dev

	if hevc != "" {
		dev, err := openDevice(hevc)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("uio: open hevc device; %w", err)
		}
		b.cores[hw.CoreHevc] = dev
	}

	alloc, err := openPool(b.cores[hw.CoreVdec1])
	if err != nil {
		b.close()
		return nil, fmt.Errorf("uio: map dma pool; %w", err)
	}

	return &Platform{backend: b, allocator: alloc}, nil
}

// Backend 寄存器与中断后端
func (p *Platform) Backend() hw.Backend {
	return p.backend
}

// Allocator DMA 缓冲分配器
func (p *Platform) Allocator() hw.Allocator {
	return p.allocator
}

// Close 释放映射并关闭设备
func (p *Platform) Close() {
	p.allocator.close()
	p.backend.close()
}

func sysfsPath(dev string, elem string) string {
	return filepath.Join("/sys/class/uio", filepath.Base(dev), elem)
}
