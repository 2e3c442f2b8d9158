// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package uio

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/cnotch/vdechub/hw"
	"github.com/cnotch/xlog"
)

// 寄存器窗口(map0)，一页覆盖全部符号寄存器
const regWindowSize = 4096

// uioDevice 单个核的 UIO 设备
type uioDevice struct {
	f    *os.File
	regs []byte // map0 映射
	irq  chan uint32
	done chan struct{}
}

func openDevice(path string) (*uioDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}

	regs, err := syscall.Mmap(int(f.Fd()), 0, regWindowSize,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	dev := &uioDevice{
		f:    f,
		regs: regs,
		irq:  make(chan uint32, 16),
		done: make(chan struct{}),
	}
	go dev.pumpInterrupts()
	return dev, nil
}

func (dev *uioDevice) close() {
	close(dev.done)
	syscall.Munmap(dev.regs)
	dev.f.Close()
}

func (dev *uioDevice) reg(r hw.Reg) *uint32 {
	return (*uint32)(unsafe.Pointer(&dev.regs[4*uint32(r)]))
}

// irqControl 写 UIO 中断控制字：1 开中断，0 关中断
func (dev *uioDevice) irqControl(enable uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], enable)
	_, err := dev.f.Write(buf[:])
	return err
}

// pumpInterrupts 阻塞读事件计数，从信箱寄存器取命令号并应答。
// UIO 在事件投递后自动关中断，每轮重新打开。
func (dev *uioDevice) pumpInterrupts() {
	var buf [4]byte
	for {
		select {
		case <-dev.done:
			return
		default:
		}

		if err := dev.irqControl(1); err != nil {
			return
		}
		if _, err := dev.f.Read(buf[:]); err != nil {
			return
		}

		cmd := atomic.LoadUint32(dev.reg(hw.RegMailbox))
		atomic.StoreUint32(dev.reg(hw.RegMailbox), 0)

		select {
		case dev.irq <- cmd:
		case <-dev.done:
			return
		default:
			xlog.Warn("uio: interrupt command dropped, consumer too slow")
		}
	}
}

// uioBackend hw.Backend 的 UIO 实现
type uioBackend struct {
	cores [hw.CoreCount]*uioDevice
}

func (b *uioBackend) close() {
	for _, dev := range b.cores {
		if dev != nil {
			dev.close()
		}
	}
}

func (b *uioBackend) WriteReg(core hw.CoreType, r hw.Reg, v uint32) {
	dev := b.cores[core]
	if dev == nil {
		return
	}
	atomic.StoreUint32(dev.reg(r), v)
}

func (b *uioBackend) ReadReg(core hw.CoreType, r hw.Reg) uint32 {
	dev := b.cores[core]
	if dev == nil {
		return 0
	}
	return atomic.LoadUint32(dev.reg(r))
}

// PowerOn 电源域门控由内核在设备打开期间保持，这里只开中断
func (b *uioBackend) PowerOn(core hw.CoreType) error {
	dev := b.cores[core]
	if dev == nil {
		return hw.ErrNotSupported
	}
	return dev.irqControl(1)
}

func (b *uioBackend) PowerOff(core hw.CoreType) {
	dev := b.cores[core]
	if dev == nil {
		return
	}
	dev.irqControl(0)
}

func (b *uioBackend) Interrupts(core hw.CoreType) <-chan uint32 {
	dev := b.cores[core]
	if dev == nil {
		return nil
	}
	return dev.irq
}
