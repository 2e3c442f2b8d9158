// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rtp 实现 RTP 包的解析和 H.264 载荷的解包。
package rtp

import (
	"github.com/pion/rtp"
)

// Packet RTP 数据包
type Packet struct {
	Data       []byte // 完整的包数据
	rtp.Header        // 包头
}

// ParsePacket 解析 RTP 包
func ParsePacket(data []byte) (*Packet, error) {
	p := &Packet{Data: data}
	if err := p.Header.Unmarshal(data); err != nil {
		return nil, err
	}
	return p, nil
}

// Payload 数据包中实际的载荷
func (p *Packet) Payload() []byte {
	return p.Data[p.PayloadOffset:]
}
