// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"errors"
	"fmt"

	"github.com/cnotch/vdechub/hw"
)

// StreamBuffer 解析器/直写路径与一个解码实例之间共享的环形字节缓冲。
// 本身无并发保护，所有访问由引擎锁串行化；同一时刻至多一个核绑定到它。
type StreamBuffer struct {
	buffer    hw.PhysBuffer
	useParser bool
	secure    bool

	dataSize    uint64 // 已写入的有效数据字节
	paddingSize uint64 // 流尾填充字节
}

// NewStreamBuffer 创建未分配后备内存的缓冲
func NewStreamBuffer() *StreamBuffer { return &StreamBuffer{} }

// Allocate 分配后备内存。
// secure 蕴含 useParser：受保护内存 CPU 不可映射，只能经解析器搬运。
func (sb *StreamBuffer) Allocate(allocator hw.Allocator, size int, useParser, secure bool) error {
	if secure && !useParser {
		return errors.New("decoder: secure stream buffer requires the parser path")
	}
	if size <= 0 || size%hw.StreamBufferReadAlignment != 0 {
		return fmt.Errorf("decoder: stream buffer size %d is not a multiple of %d",
			size, hw.StreamBufferReadAlignment)
	}

	buffer, err := allocator.Allocate("stream-buffer", size, hw.StreamBufferReadAlignment,
		hw.AllocOptions{Secure: secure, Writable: true, Mapping: !secure})
	if err != nil {
		return err
	}

	sb.buffer = buffer
	sb.useParser = useParser
	sb.secure = secure
	sb.dataSize = 0
	sb.paddingSize = 0
	return nil
}

// Buffer 后备缓冲
func (sb *StreamBuffer) Buffer() hw.PhysBuffer { return sb.buffer }

// Size 缓冲尺寸
func (sb *StreamBuffer) Size() int {
	if sb.buffer == nil {
		return 0
	}
	return sb.buffer.Size()
}

// UseParser 写指针是否由解析器硬件推进
func (sb *StreamBuffer) UseParser() bool { return sb.useParser }

// Secure 是否受保护内存
func (sb *StreamBuffer) Secure() bool { return sb.secure }

// DataSize 已写入的有效数据字节（逻辑计数，不回绕）
func (sb *StreamBuffer) DataSize() uint64 { return sb.dataSize }

// SetDataSize 更新有效数据字节
func (sb *StreamBuffer) SetDataSize(n uint64) { sb.dataSize = n }

// PaddingSize 流尾填充字节
func (sb *StreamBuffer) PaddingSize() uint64 { return sb.paddingSize }

// SetPaddingSize 更新流尾填充字节
func (sb *StreamBuffer) SetPaddingSize(n uint64) { sb.paddingSize = n }

// CopyIn 从 CPU 把 data 写到逻辑偏移 offset 处，按缓冲尺寸回绕，
// 并在 DMA 接手前回写受影响的缓存行。仅直写路径可用。
func (sb *StreamBuffer) CopyIn(offset uint64, data []byte) error {
	raw := sb.buffer.Bytes()
	if raw == nil {
		return errors.New("decoder: stream buffer is not cpu writable")
	}
	size := uint64(len(raw))
	if uint64(len(data)) > size {
		return fmt.Errorf("decoder: input chunk of %d bytes exceeds buffer size %d",
			len(data), size)
	}

	pos := offset % size
	n := copy(raw[pos:], data)
	sb.buffer.Flush(int(pos), n)
	if n < len(data) {
		m := copy(raw, data[n:])
		sb.buffer.Flush(0, m)
	}
	return nil
}

// Free 释放后备内存
func (sb *StreamBuffer) Free() {
	if sb.buffer != nil {
		sb.buffer.Free()
		sb.buffer = nil
	}
}
