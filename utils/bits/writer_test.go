// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitsWriter_Write(t *testing.T) {
	w := NewWriter()
	w.Write(8, 0x46)
	w.Write(4, 0x4)
	w.Write(4, 0xc)
	w.Write(16, 0x5601)

	assert.Equal(t, []byte{0x46, 0x4c, 0x56, 0x01}, w.Bytes())
}

func TestBitsWriter_Ue(t *testing.T) {
	tests := []uint32{0, 1, 2, 3, 4, 7, 8, 31, 255, 4096}

	for _, v := range tests {
		w := NewWriter()
		w.WriteUe(v)
		w.WriteTrailingBits()

		r := NewReader(w.Bytes())
		assert.Equal(t, v, r.ReadUe(), "ue %d", v)
	}
}

func TestBitsWriter_Se(t *testing.T) {
	tests := []int32{0, 1, -1, 2, -2, 7, -26, 127}

	for _, v := range tests {
		w := NewWriter()
		w.WriteSe(v)
		w.WriteTrailingBits()

		r := NewReader(w.Bytes())
		assert.Equal(t, v, r.ReadSe(), "se %d", v)
	}
}

func TestBitsWriter_RoundTrip(t *testing.T) {
	w := NewWriter()
	w.Write(2, 3)
	w.WriteUe(9)
	w.WriteBool(true)
	w.WriteSe(-3)
	w.Write(13, 0x155a)
	w.WriteTrailingBits()

	r := NewReader(w.Bytes())
	assert.Equal(t, uint32(3), r.Read(2))
	assert.Equal(t, uint32(9), r.ReadUe())
	assert.Equal(t, true, r.ReadBool())
	assert.Equal(t, int32(-3), r.ReadSe())
	assert.Equal(t, uint32(0x155a), r.Read(13))
}
