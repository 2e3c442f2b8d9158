// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rtp

import (
	"fmt"

	"github.com/cnotch/vdechub/av/h264"
)

// NaluWriter 包装 WriteNalu 方法的接口。
// rtpTime 是 NAL 单元所属帧的 RTP 时间戳。
type NaluWriter interface {
	WriteNalu(nalu []byte, rtpTime uint32) error
}

// Depacketizer 解包器
type Depacketizer interface {
	Depacketize(p *Packet) error
}

type h264Depacketizer struct {
	fragments []*Packet // 分片包
	w         NaluWriter
}

// NewH264Depacketizer 实例化 H264 解包器
func NewH264Depacketizer(w NaluWriter) Depacketizer {
	return &h264Depacketizer{
		fragments: make([]*Packet, 0, 16),
		w:         w,
	}
}

func (dp *h264Depacketizer) Depacketize(packet *Packet) (err error) {
	payload := packet.Payload()
	if len(payload) < 3 {
		return
	}

	// +---------------+
	// |0|1|2|3|4|5|6|7|
	// +-+-+-+-+-+-+-+-+
	// |F|NRI|  Type   |
	// +---------------+
	naluType := payload[0] & h264.NalTypeBitmask

	switch {
	case naluType < h264.NalStapaInRtp:
		// h264 原生 nal 包
		err = dp.writeNalu(payload, packet.Timestamp)
	case naluType == h264.NalStapaInRtp:
		err = dp.depacketizeStapa(packet)
	case naluType == h264.NalFuAInRtp:
		err = dp.depacketizeFuA(packet)
	default:
		err = fmt.Errorf("nalu type %d is currently not handled", naluType)
	}
	return
}

func (dp *h264Depacketizer) depacketizeStapa(packet *Packet) (err error) {
	payload := packet.Payload()
	header := payload[0]

	// 	0                   1                   2                   3
	// 	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	//  +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//  |STAP-A NAL HDR |         NALU 1 Size           | NALU 1 HDR    |
	//  +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//  |                         NALU 1 Data                           |
	//  :                                                               :
	//  +               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//  |               | NALU 2 Size                   | NALU 2 HDR    |
	//  +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//  |                         NALU 2 Data                           |
	//  :                                                               :
	//  |                               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//  |                               :...OPTIONAL RTP padding        |
	//  +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	off := 1 // 跳过 STAP-A NAL HDR
	// 循环读取被封装的NAL
	for {
		if off+2 > len(payload) {
			return
		}

		// nal长度
		nalSize := ((uint16(payload[off])) << 8) | uint16(payload[off+1])
		if nalSize < 1 {
			return
		}

		off += 2
		nalu := make([]byte, nalSize)
		copy(nalu, payload[off:])
		nalu[0] = 0 | (header & 0x60) | (nalu[0] & 0x1F)
		if err = dp.writeNalu(nalu, packet.Timestamp); err != nil {
			return
		}

		off += int(nalSize)
		if off >= len(payload) { // 扫描完成
			break
		}
	}
	return
}

func (dp *h264Depacketizer) depacketizeFuA(packet *Packet) (err error) {
	payload := packet.Payload()
	header := payload[0]

	// 	0                   1                   2                   3
	// 	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	//  +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//  | FU indicator  |   FU header   |                               |
	//  +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+                               |
	//  |                                                               |
	//  |                         FU payload                            |
	//  |                                                               |
	//  |                               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//  |                               :...OPTIONAL RTP padding        |
	//  +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	// +---------------+
	// |0|1|2|3|4|5|6|7|
	// +-+-+-+-+-+-+-+-+
	// |S|E|R|  Type   |
	// +---------------+
	fuHeader := payload[1]

	if (fuHeader>>7)&1 == 1 { // 第一个分片包
		dp.fragments = dp.fragments[:0]
	}
	if len(dp.fragments) != 0 &&
		dp.fragments[len(dp.fragments)-1].SequenceNumber != packet.SequenceNumber-1 {
		// Packet loss ?
		dp.fragments = dp.fragments[:0]
		return
	}

	// 缓存片段
	dp.fragments = append(dp.fragments, packet)

	if (fuHeader>>6)&1 == 1 { // 最后一个片段
		naluLen := 1 // 计数帧总长,初始 naluType header len
		for _, fragment := range dp.fragments {
			naluLen += len(fragment.Payload()) - 2
		}

		nalu := make([]byte, naluLen)
		nalu[0] = (header & 0x60) | (fuHeader & 0x1F)
		offset := 1
		for _, fragment := range dp.fragments {
			payload := fragment.Payload()[2:]
			copy(nalu[offset:], payload)
			offset += len(payload)
		}
		timestamp := dp.fragments[0].Timestamp
		// 清空分片缓存
		dp.fragments = dp.fragments[:0]

		err = dp.writeNalu(nalu, timestamp)
	}

	return
}

func (dp *h264Depacketizer) writeNalu(nalu []byte, rtpTime uint32) error {
	if nalu[0]&h264.NalTypeBitmask == h264.NalFillerData { // ignore
		return nil
	}
	return dp.w.WriteNalu(nalu, rtpTime)
}
