// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

import (
	"github.com/cnotch/xlog"
)

// PowerReference 核电源的作用域引用。
// 获取时在 0→1 边界上电，Release 时在 1→0 边界断电。
// 每个可能运行的流整个生命期持有一个引用，换出的流也不例外。
type PowerReference struct {
	core DecoderCore
}

// NewPowerReference 获取一个电源引用
func NewPowerReference(core DecoderCore) (*PowerReference, error) {
	if err := core.IncrementPowerRef(); err != nil {
		return nil, err
	}
	return &PowerReference{core: core}, nil
}

// Release 释放引用。可重复调用，只有第一次生效。
// 可能在持有上层调度锁时调用，核的电源计数使用独立的窄锁以避免重入。
func (p *PowerReference) Release() {
	if p.core == nil {
		return
	}
	p.core.DecrementPowerRef()
	p.core = nil
}

// powerState 核电源计数。
// 锁独立于上层调度锁：PowerReference 的释放可能发生在调度锁内的任意回卷路径上。
type powerState struct {
	ref uint64
}

func (c *coreBase) IncrementPowerRef() error {
	c.powerLock.Lock()
	defer c.powerLock.Unlock()

	if c.power.ref == 0 {
		if err := c.backend.PowerOn(c.coreType); err != nil {
			return err
		}
		xlog.Debugf("%s: powered on", c.coreType)
	}
	c.power.ref++
	return nil
}

func (c *coreBase) DecrementPowerRef() {
	c.powerLock.Lock()
	defer c.powerLock.Unlock()

	if c.power.ref == 0 {
		panic("hw: power ref underflow")
	}
	c.power.ref--
	if c.power.ref == 0 {
		c.backend.PowerOff(c.coreType)
		xlog.Debugf("%s: powered off", c.coreType)
	}
}

// Powered 是否处于上电状态
func (c *coreBase) Powered() bool {
	c.powerLock.Lock()
	defer c.powerLock.Unlock()
	return c.power.ref > 0
}
