// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bits

// Writer 比特流写入器，与 Reader 对应；用于合成 RBSP 片段。
type Writer struct {
	buf    []byte
	offset int // bit base
}

// NewWriter returns a new Writer.
func NewWriter() *Writer {
	return &Writer{
		buf: make([]byte, 0, 64),
	}
}

// WriteBit write a bit.
func (w *Writer) WriteBit(bit uint8) {
	if w.offset>>3 >= len(w.buf) {
		w.buf = append(w.buf, 0)
	}
	if bit&1 != 0 {
		w.buf[w.offset>>3] |= 1 << (7 - uint(w.offset&0x7))
	}
	w.offset++
}

// Write write the low n bits of v, MSB first.
func (w *Writer) Write(n int, v uint32) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(uint8(v >> uint(i)))
	}
}

// WriteBool write one bit bool.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteBit(1)
	} else {
		w.WriteBit(0)
	}
}

// WriteUe write the UE GolombCode.
func (w *Writer) WriteUe(v uint32) {
	// codeNum = v; 写 leadingZeros 个 0，1，再写 codeNum+1 的低 leadingZeros 位
	vv := uint64(v) + 1
	n := 0
	for t := vv; t > 1; t >>= 1 {
		n++
	}
	for i := 0; i < n; i++ {
		w.WriteBit(0)
	}
	for i := n; i >= 0; i-- {
		w.WriteBit(uint8(vv >> uint(i)))
	}
}

// WriteSe write the SE GolombCode.
func (w *Writer) WriteSe(v int32) {
	if v > 0 {
		w.WriteUe(uint32(v)*2 - 1)
	} else {
		w.WriteUe(uint32(-v) * 2)
	}
}

// WriteTrailingBits rbsp_stop_one_bit + 对齐填 0。
func (w *Writer) WriteTrailingBits() {
	w.WriteBit(1)
	for w.offset&0x7 != 0 {
		w.WriteBit(0)
	}
}

// Offset returns the offset of bits.
func (w *Writer) Offset() int {
	return w.offset
}

// Bytes 返回已写入的字节（末尾不足一字节的部分低位补 0）。
func (w *Writer) Bytes() []byte {
	return w.buf
}
