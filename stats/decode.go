// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stats

import (
	"sync/atomic"
)

// DecodeStats 全局解码统计
var DecodeStats = &Decode{}

// DecodeSample 解码统计采样
type DecodeSample struct {
	Frames int64 `json:"frames"` // 已输出帧
	Eos    int64 `json:"eos"`    // 正常到达流尾的流
	Errors int64 `json:"errors"` // 致命解码错误
}

// Decode 解码统计
type Decode struct {
	sample DecodeSample
}

// AddFrame 记一帧输出
func (d *Decode) AddFrame() {
	atomic.AddInt64(&d.sample.Frames, 1)
}

// AddEos 记一条到达流尾的流
func (d *Decode) AddEos() {
	atomic.AddInt64(&d.sample.Eos, 1)
}

// AddError 记一次致命解码错误
func (d *Decode) AddError() {
	atomic.AddInt64(&d.sample.Errors, 1)
}

// GetSample 获取当前时点采样
func (d *Decode) GetSample() DecodeSample {
	return DecodeSample{
		Frames: atomic.LoadInt64(&d.sample.Frames),
		Eos:    atomic.LoadInt64(&d.sample.Eos),
		Errors: atomic.LoadInt64(&d.sample.Errors),
	}
}
