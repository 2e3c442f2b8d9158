// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

// AllocOptions 缓冲分配选项
type AllocOptions struct {
	Secure   bool // 受保护内存，CPU 不可映射
	Writable bool
	Mapping  bool // 需要虚拟地址映射
}

// PhysBuffer 物理连续缓冲。
// CPU 写入与硬件 DMA 在时间上互斥，跨越交接点必须 Flush/Invalidate。
type PhysBuffer interface {
	PhysBase() uint64
	Size() int
	// Bytes 虚拟映射；未映射（或 Secure）时返回 nil
	Bytes() []byte
	// Flush 把 [offset, offset+length) 的 CPU 写回物理内存，DMA 启动前调用
	Flush(offset, length int)
	// Invalidate 丢弃 [offset, offset+length) 的缓存行，DMA 完成信号后、CPU 读之前调用
	Invalidate(offset, length int)
	Free()
}

// Allocator 缓冲分配器，sysmem 协商由实现方处理
type Allocator interface {
	Allocate(tag string, size int, alignment int, opts AllocOptions) (PhysBuffer, error)
}

// InputContextSize 输入上下文快照的固定尺寸（硬件格式，内容不透明）
const InputContextSize = 4096

// InputContext 码流解析状态的硬件格式快照，
// 换出时保存、换入时恢复，使流不必从环形缓冲起点重新解析。
type InputContext struct {
	Buffer PhysBuffer
}

// Free 释放快照缓冲
func (c *InputContext) Free() {
	if c.Buffer != nil {
		c.Buffer.Free()
		c.Buffer = nil
	}
}
