// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"github.com/cnotch/vdechub/hw"
)

// Instance 把一条客户端可见的解码状态机和它独占的码流缓冲、
// 输入上下文快照配成一对。由引擎独占持有：要么是当前实例，
// 要么在换出队列里，二者取一。
type Instance struct {
	decoder StreamDecoder
	buffer  *StreamBuffer

	// 懒分配，只有支持保存/恢复的编解码用到
	inputContext *hw.InputContext

	// 流存续期间始终持有，换出也不放；电气门控与软件绑定是两回事
	power *hw.PowerReference
}

// NewInstance 创建实例并为其核取得电源引用
func NewInstance(dec StreamDecoder, buffer *StreamBuffer, core hw.DecoderCore) (*Instance, error) {
	power, err := hw.NewPowerReference(core)
	if err != nil {
		return nil, err
	}
	return &Instance{decoder: dec, buffer: buffer, power: power}, nil
}

// Decoder 状态机
func (inst *Instance) Decoder() StreamDecoder { return inst.decoder }

// Buffer 码流缓冲
func (inst *Instance) Buffer() *StreamBuffer { return inst.buffer }

// InputContext 已保存的快照，可能为 nil
func (inst *Instance) InputContext() *hw.InputContext { return inst.inputContext }

// SetInputContext 记录懒分配的快照缓冲
func (inst *Instance) SetInputContext(ctx *hw.InputContext) { inst.inputContext = ctx }

// Free 释放实例占用的资源
func (inst *Instance) Free() {
	if inst.inputContext != nil {
		inst.inputContext.Free()
		inst.inputContext = nil
	}
	if inst.buffer != nil {
		inst.buffer.Free()
	}
	if inst.power != nil {
		inst.power.Release()
		inst.power = nil
	}
}
