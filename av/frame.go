// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package av

import (
	"github.com/cnotch/vdechub/hw"
)

// Frame 解码完成的一幅图像。
// Buffer 指向客户端输出集合中的一块；投递给消费方后由客户端回收。
type Frame struct {
	Index       int // 输出集合内的缓冲序号
	CodedWidth  int // 编码尺寸（宏块对齐）
	CodedHeight int
	Width       int // 显示尺寸
	Height      int
	Stride      int
	Poc         int32  // 输出顺序
	Pts         uint64 // 客户端时间戳，HasPts 为真时有效
	HasPts      bool
	HasSar      bool
	SarWidth    int
	SarHeight   int
	Buffer      hw.PhysBuffer
}

// Size 图像占用的字节数
func (f *Frame) Size() int {
	if f.Buffer == nil {
		return 0
	}
	return f.Buffer.Size()
}

// FrameWriter 包装 WriteFrame 方法的接口
type FrameWriter interface {
	WriteFrame(frame *Frame) error
}
