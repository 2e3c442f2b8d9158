// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

import (
	"time"
)

// Parser 码流解析器硬件：推入字节，等待完成通知。
// WaitForParsingCompleted 阻塞在独立于调度锁的信号对象上；
// 无论正常完成、取消还是超时，调用方都必须调用 CancelParsing 做同一种回滚。
type Parser interface {
	// InitializeEsParser 绑定解析器输出到核的码流 FIFO
	InitializeEsParser(core DecoderCore) error

	// ParseVideo 启动一段数据的 DMA 解析，立即返回
	ParseVideo(data []byte) error

	// WaitForParsingCompleted 等待完成或取消信号，限时 timeout
	WaitForParsingCompleted(timeout time.Duration) error

	// TryStartCancelParsing 置取消信号位，等待方随后观察到
	TryStartCancelParsing()

	// CancelParsing 同步回滚解析器状态，三种收尾路径都需要
	CancelParsing()
}
