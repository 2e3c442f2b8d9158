// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/hw"
)

// StreamDecoder 单条流的解码状态机。
// 调度决策是向流询问而不是强加给流：引擎只通过这里的谓词和
// 换入换出通知驱动它。所有方法都在引擎锁下调用。
type StreamDecoder interface {
	// CoreType 本流绑定的物理核
	CoreType() hw.CoreType

	// SetupProtection 换入时的保护内存配置
	SetupProtection() error
	// InitializeHardware 换入时编程编解码相关寄存器
	InitializeHardware() error
	// SwappedIn 换入完成，流恢复自己的泵循环
	SwappedIn()
	// SetSwappedOut 即将换出，流收起运行状态
	SetSwappedOut()

	// ShouldSaveInputContext 本次换出是否保存解析检查点。
	// 回退重试时返回 false：旧检查点保持为回滚点。
	ShouldSaveInputContext() bool

	// CanBeSwappedOut 当前不是不可打断的图像中途
	CanBeSwappedOut() bool
	// MustBeSwappedOut 强制让出（完成一幅图像后的检查点）
	MustBeSwappedOut() bool
	// CanBeSwappedIn 未致命出错、未到流尾、不缺输入输出
	CanBeSwappedIn() bool

	// HandleInterrupt 处理本流为当前流期间的硬件中断
	HandleInterrupt(status uint32)
	// OnSignaledWatchdog 看门狗超时，硬件卡死
	OnSignaledWatchdog()
	// OnFatalError 标记流永久不可调度
	OnFatalError()
}

// InputItem 客户端供给的一段输入
type InputItem struct {
	Data   []byte
	Pts    int64
	HasPts bool
	Eos    bool
}

// FrameSource 每条流的输入数据提供方。
// 异步方法把工作转移出中断线程，由实现方稍后回调。
type FrameSource interface {
	ReadMoreInputData() (InputItem, bool)
	HasMoreInputData() bool
	// AsyncPumpDecoder 请求稍后在引擎锁下重新驱动泵循环
	AsyncPumpDecoder()
	// AsyncResetStreamAfterCurrentFrame 请求客户端重建这条逻辑流
	AsyncResetStreamAfterCurrentFrame()
}

// FrameSink 客户端的输出表面提供方
type FrameSink interface {
	// InitializeFrames 按新的序列参数分配输出帧
	InitializeFrames(minCount, maxCount int, codedWidth, codedHeight, stride int,
		displayWidth, displayHeight int, hasSar bool, sarWidth, sarHeight uint16) ([]*av.Frame, error)
	OnFrameReady(frame *av.Frame)
	OnEos()
	OnError(err error)
}

// Scheduler 引擎交给每条流的能力接口，构造时注入。
// 引擎总是比它发出的引用活得久。
type Scheduler interface {
	// TryToReschedule 触发一轮重新调度，要求已持锁
	TryToReschedule()
	// Watchdog 硬件活动期间的单一超时计时器
	Watchdog() *Watchdog
	// Core 某个核的访问器，要求已持锁
	Core(t hw.CoreType) hw.DecoderCore
	// Current 当前被调度的状态机，可能为 nil，要求已持锁
	Current() StreamDecoder
}
