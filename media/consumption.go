// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package media

import (
	"io"
	"runtime/debug"
	"time"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/stats"
	"github.com/cnotch/xlog"
)

// Consumer 解码输出的消费者接口
type Consumer interface {
	Consume(frame *av.Frame)
	OnEos()
	OnError(err error)
	io.Closer
}

// 关闭哨兵，排空队列后结束消费协程
type closeSentinel struct{}

// consumption 流的一个消费者。
// 队列里的每一帧都持有对流输出缓冲的一个引用，
// 无论是否真正消费都必须经 doneFrame 交还。
type consumption struct {
	startOn      time.Time        // 启动时间
	stream       *Stream          // 被消费的流
	cid          CID              // 消费ID
	consumer     Consumer         // 消费者
	consumerType ConsumerType     // 消费者类型
	extra        string           // 消费者额外信息
	recvQueue    *queue.SyncQueue // 接收输出帧的队列
	closed       bool             // 消费者是否关闭，stream.frameMu 保护
	Flow         stats.Flow       // 流量统计
	logger       *xlog.Logger     // 日志对象
}

func newConsumption(s *Stream, consumer Consumer, consumerType ConsumerType, extra string) *consumption {
	c := &consumption{
		startOn:      time.Now(),
		stream:       s,
		cid:          NewCID(consumerType, &s.consumerSequenceSeed),
		recvQueue:    queue.NewSyncQueue(),
		consumer:     consumer,
		consumerType: consumerType,
		extra:        extra,
		Flow:         stats.NewFlow(),
	}

	c.logger = s.logger.With(xlog.Fields(
		xlog.F("cid", uint32(c.cid)),
		xlog.F("consumertype", c.consumerType.String()),
		xlog.F("extra", c.extra)))
	return c
}

func (c *consumption) ID() CID {
	return c.cid
}

// Close 关闭消费者。哨兵保证队列里已入列的帧被排空交还。
func (c *consumption) Close() error {
	c.stream.frameMu.Lock()
	if c.closed {
		c.stream.frameMu.Unlock()
		return nil
	}
	c.closed = true
	c.stream.frameMu.Unlock()

	c.recvQueue.Push(closeSentinel{})
	return nil
}

// 向消费者投递一帧，已关闭返回 false。
// 调用方持有 stream.frameMu，与 Close 的关闭标记互斥。
func (c *consumption) send(frame *av.Frame) bool {
	if c.closed {
		return false
	}
	c.recvQueue.Push(frame)
	c.Flow.AddIn(int64(frame.Size()))
	return true
}

func (c *consumption) consume() {
	defer func() {
		defer func() { // 避免 handler 再 panic
			recover()
		}()

		if r := recover(); r != nil {
			c.logger.Errorf("consume routine panic；r = %v \n %s", r, debug.Stack())
		}

		// 停止消费
		c.stream.StopConsume(c.cid)
		c.consumer.Close()

		// 尽早通知GC，回收内存
		c.recvQueue.Reset()
		c.stream = nil
	}()

	for {
		p := c.recvQueue.Pop()
		if p == nil {
			c.logger.Warn("receive nil frame")
			continue
		}
		if _, ok := p.(closeSentinel); ok {
			return
		}

		frame := p.(*av.Frame)
		if !c.closed {
			c.consumer.Consume(frame)
			c.Flow.AddOut(int64(frame.Size()))
		}
		c.stream.doneFrame(frame)
	}
}

// ConsumptionInfo 消费者信息
type ConsumptionInfo struct {
	ID           uint32           `json:"id"`
	StartOn      string           `json:"start_on"`
	ConsumerType string           `json:"consumer_type"`
	Extra        string           `json:"extra"`
	Flow         stats.FlowSample `json:"flow"` // 转换成 K
}

// Info 获取消费者信息
func (c *consumption) Info() ConsumptionInfo {
	flow := c.Flow.GetSample()
	flow.InBytes /= 1024
	flow.OutBytes /= 1024

	return ConsumptionInfo{
		ID:           uint32(c.cid),
		StartOn:      c.startOn.Format(time.RFC3339Nano),
		ConsumerType: c.consumerType.String(),
		Extra:        c.extra,
		Flow:         flow,
	}
}
