// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cnotch/vdechub/av"
)

// 数据帧与文本命令在同一连接上交错，'$' 前缀区分
const (
	dataPrefix = byte('$')

	// 数据通道
	ChannelInput = byte(0) // 客户端→服务端：码流输入
	ChannelFrame = byte(1) // 服务端→客户端：解码输出帧

	// 输入数据净荷的标志位
	inputHasPts = byte(1 << 0)
	inputEos    = byte(1 << 1)
	inputRtp    = byte(1 << 2) // 净荷是一个完整的 RTP 包

	inputHeadSize = 9  // flags(1) + pts(8)
	frameHeadSize = 32 // 输出帧头

	// maxDataSize 单个数据帧的净荷上限
	maxDataSize = 4 * 1024 * 1024
)

// InputData 一个输入数据帧
type InputData struct {
	Data   []byte
	Pts    int64
	HasPts bool
	Eos    bool
	Rtp    bool
}

// ReadInputData 读一个输入数据帧，调用方已消费 '$' 前缀之前的预读
func ReadInputData(r *bufio.Reader) (*InputData, error) {
	var head [6]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	if head[0] != dataPrefix {
		return nil, fmt.Errorf("ingest: malformed data frame prefix 0x%02x", head[0])
	}
	if head[1] != ChannelInput {
		return nil, fmt.Errorf("ingest: unexpected data channel %d", head[1])
	}

	size := binary.BigEndian.Uint32(head[2:])
	if size < inputHeadSize || size > maxDataSize {
		return nil, fmt.Errorf("ingest: bad data frame size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	in := &InputData{
		Pts:    int64(binary.BigEndian.Uint64(payload[1:9])),
		HasPts: payload[0]&inputHasPts != 0,
		Eos:    payload[0]&inputEos != 0,
		Rtp:    payload[0]&inputRtp != 0,
		Data:   payload[inputHeadSize:],
	}
	return in, nil
}

// WriteInputData 编码一个输入数据帧（客户端侧和测试用）
func WriteInputData(w io.Writer, in *InputData) error {
	head := make([]byte, 6+inputHeadSize)
	head[0] = dataPrefix
	head[1] = ChannelInput
	binary.BigEndian.PutUint32(head[2:], uint32(inputHeadSize+len(in.Data)))
	if in.HasPts {
		head[6] |= inputHasPts
	}
	if in.Eos {
		head[6] |= inputEos
	}
	if in.Rtp {
		head[6] |= inputRtp
	}
	binary.BigEndian.PutUint64(head[7:], uint64(in.Pts))

	if _, err := w.Write(head); err != nil {
		return err
	}
	_, err := w.Write(in.Data)
	return err
}

// WriteFrameData 把一个解码输出帧编码到 w。
// 帧头后跟 NV12 像素数据，长度 stride*codedHeight*3/2。
func WriteFrameData(w io.Writer, frame *av.Frame) error {
	pixels := frame.Stride * frame.CodedHeight * 3 / 2

	head := make([]byte, 6+frameHeadSize)
	head[0] = dataPrefix
	head[1] = ChannelFrame
	binary.BigEndian.PutUint32(head[2:], uint32(frameHeadSize+pixels))

	p := head[6:]
	binary.BigEndian.PutUint32(p[0:], uint32(frame.Index))
	binary.BigEndian.PutUint32(p[4:], uint32(frame.Poc))
	binary.BigEndian.PutUint32(p[8:], uint32(frame.Width))
	binary.BigEndian.PutUint32(p[12:], uint32(frame.Height))
	binary.BigEndian.PutUint32(p[16:], uint32(frame.Stride))
	var flags uint32
	if frame.HasPts {
		flags |= 1
	}
	binary.BigEndian.PutUint32(p[20:], flags)
	binary.BigEndian.PutUint64(p[24:], frame.Pts)

	if _, err := w.Write(head); err != nil {
		return err
	}

	if frame.Buffer != nil && len(frame.Buffer.Bytes()) >= pixels {
		frame.Buffer.Invalidate(0, pixels)
		_, err := w.Write(frame.Buffer.Bytes()[:pixels])
		return err
	}

	// 受保护内存不可映射时只送帧头加零净荷
	_, err := w.Write(make([]byte, pixels))
	return err
}

// WriteEosMarker 输出通道的流尾标记：帧序号全 1，零净荷
func WriteEosMarker(w io.Writer) error {
	head := make([]byte, 6+frameHeadSize)
	head[0] = dataPrefix
	head[1] = ChannelFrame
	binary.BigEndian.PutUint32(head[2:], frameHeadSize)
	binary.BigEndian.PutUint32(head[6:], ^uint32(0))

	_, err := w.Write(head)
	return err
}
