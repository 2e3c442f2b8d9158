// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestTracker(t *testing.T, mod func(sps *SPS)) *Tracker {
	sps := testSPS()
	if mod != nil {
		mod(sps)
	}
	tk := NewTracker()
	assert.NoError(t, tk.DecodeParamSet(EncodeSPS(sps)))
	assert.NoError(t, tk.DecodeParamSet(EncodePPS(testPPS())))
	return tk
}

func idrHeader() *SliceHeader {
	return &SliceHeader{NalRefIdc: 3, IdrPic: true, SliceType: SliceTypeI}
}

func refHeader(frameNum, pocLsb uint32) *SliceHeader {
	return &SliceHeader{NalRefIdc: 2, SliceType: SliceTypeP, FrameNum: frameNum, PicOrderCntLsb: pocLsb}
}

func decodeOne(t *testing.T, tk *Tracker, sh *SliceHeader, frameIndex int) []Output {
	assert.NoError(t, tk.BeginPicture(sh, frameIndex))
	outputs, err := tk.FinishPicture()
	assert.NoError(t, err)
	return outputs
}

func TestTrackerPocType0Wraparound(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.Log2MaxPicOrderCntLsb = 4 // lsb 值域 [0,16)
	})

	// lsb 回绕两次，poc 必须单调扩展
	lsbs := []uint32{0, 4, 8, 12, 0, 4, 8, 12, 0}
	want := []int32{0, 4, 8, 12, 16, 20, 24, 28, 32}

	sh := idrHeader()
	for i, lsb := range lsbs {
		if i > 0 {
			sh = refHeader(uint32(i)%256, lsb)
		}
		assert.NoError(t, tk.BeginPicture(sh, i))
		assert.Equal(t, want[i], tk.cur.poc, "picture %d", i)
		_, err := tk.FinishPicture()
		assert.NoError(t, err)
	}
}

func TestTrackerPocType2(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.PicOrderCntType = 2
		sps.Log2MaxPicOrderCntLsb = 0
	})

	assert.NoError(t, tk.BeginPicture(idrHeader(), 0))
	assert.Equal(t, int32(0), tk.cur.poc)
	tk.FinishPicture()

	assert.NoError(t, tk.BeginPicture(refHeader(1, 0), 1))
	assert.Equal(t, int32(2), tk.cur.poc)
	tk.FinishPicture()

	// 非参考图像比前一参考图像小 1
	nonRef := &SliceHeader{SliceType: SliceTypeB, FrameNum: 2}
	assert.NoError(t, tk.BeginPicture(nonRef, 2))
	assert.Equal(t, int32(3), tk.cur.poc)
}

func TestTrackerOutputOrder(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.MaxNumRefFrames = 2
	})

	// 解码序 poc 0,8,4：重排深度 2，超出时按最小 poc 弹出
	var outputs []Output
	outputs = append(outputs, decodeOne(t, tk, idrHeader(), 0)...)
	outputs = append(outputs, decodeOne(t, tk, refHeader(1, 8), 1)...)
	assert.Empty(t, outputs)

	outputs = append(outputs, decodeOne(t, tk, refHeader(2, 4), 2)...)
	assert.Equal(t, []Output{{FrameIndex: 0, Poc: 0}}, outputs)

	// 冲出剩余图像，显示序按 poc 递增
	flushed := tk.Flush()
	assert.Equal(t, []Output{{FrameIndex: 2, Poc: 4}, {FrameIndex: 1, Poc: 8}}, flushed)
}

func TestTrackerSlidingWindow(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.MaxNumRefFrames = 2
	})

	decodeOne(t, tk, idrHeader(), 0)
	decodeOne(t, tk, refHeader(1, 2), 1)
	assert.Len(t, tk.shortTerm(), 2)

	// 第三个参考图像挤掉 frameNum 最小的
	decodeOne(t, tk, refHeader(2, 4), 2)
	assert.Len(t, tk.shortTerm(), 2)
	frameNums := []uint32{tk.shortTerm()[0].frameNum, tk.shortTerm()[1].frameNum}
	assert.ElementsMatch(t, []uint32{1, 2}, frameNums)
}

func TestTrackerIdrFlushesDpb(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.MaxNumRefFrames = 4
	})

	decodeOne(t, tk, idrHeader(), 0)
	decodeOne(t, tk, refHeader(1, 2), 1)
	decodeOne(t, tk, refHeader(2, 4), 2)

	// 新 IDR 先弹出全部待输出图像，再清空参考
	outputs := decodeOne(t, tk, idrHeader(), 3)
	assert.Equal(t, []Output{{FrameIndex: 0, Poc: 0}, {FrameIndex: 1, Poc: 2}, {FrameIndex: 2, Poc: 4}}, outputs)
	assert.Len(t, tk.shortTerm(), 1)
	assert.Equal(t, []int{3}, tk.LiveIndices())
}

func TestTrackerIdrNoOutputOfPriorPics(t *testing.T) {
	tk := newTestTracker(t, nil)

	decodeOne(t, tk, idrHeader(), 0)
	decodeOne(t, tk, refHeader(1, 2), 1)

	idr := idrHeader()
	idr.NoOutputOfPriorPics = true
	outputs := decodeOne(t, tk, idr, 2)
	assert.Empty(t, outputs)
	assert.Equal(t, []int{2}, tk.LiveIndices())
}

func TestTrackerMmcoShortTermRemoval(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.MaxNumRefFrames = 4
	})

	decodeOne(t, tk, idrHeader(), 0)
	decodeOne(t, tk, refHeader(1, 2), 1)

	// mmco 1: 退休 pic_num = cur - 2 的短期参考（即 IDR）
	sh := refHeader(2, 4)
	sh.AdaptiveRefPicMarking = true
	sh.Mmcos = []MMCO{{Op: 1, Operand1: 1}}
	decodeOne(t, tk, sh, 2)

	frameNums := make([]uint32, 0, 2)
	for _, p := range tk.shortTerm() {
		frameNums = append(frameNums, p.frameNum)
	}
	assert.ElementsMatch(t, []uint32{1, 2}, frameNums)
}

func TestTrackerMmco5ResetsPoc(t *testing.T) {
	tk := newTestTracker(t, nil)

	decodeOne(t, tk, idrHeader(), 0)
	decodeOne(t, tk, refHeader(1, 20), 1)

	sh := refHeader(2, 40)
	sh.AdaptiveRefPicMarking = true
	sh.Mmcos = []MMCO{{Op: 5}}
	assert.NoError(t, tk.BeginPicture(sh, 2))
	_, err := tk.FinishPicture()
	assert.NoError(t, err)

	// 当前图像重新锚定到 poc 0，且是仅存的参考
	assert.Len(t, tk.shortTerm(), 1)
	assert.Equal(t, int32(0), tk.shortTerm()[0].poc)
	assert.Equal(t, uint32(0), tk.shortTerm()[0].frameNum)
}

func TestTrackerLongTermMarking(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.MaxNumRefFrames = 3
	})

	idr := idrHeader()
	idr.LongTermReferenceFlag = true
	decodeOne(t, tk, idr, 0)
	assert.Len(t, tk.longTermPics(), 1)

	// 长期参考不参与滑窗
	decodeOne(t, tk, refHeader(1, 2), 1)
	decodeOne(t, tk, refHeader(2, 4), 2)
	decodeOne(t, tk, refHeader(3, 6), 3)
	assert.Len(t, tk.longTermPics(), 1)
	assert.Len(t, tk.shortTerm(), 2)

	// mmco 2 显式退休
	sh := refHeader(4, 8)
	sh.AdaptiveRefPicMarking = true
	sh.Mmcos = []MMCO{{Op: 2, Operand1: 0}}
	decodeOne(t, tk, sh, 4)
	assert.Empty(t, tk.longTermPics())
}

func TestTrackerFrameNumGap(t *testing.T) {
	tk := newTestTracker(t, nil)

	decodeOne(t, tk, idrHeader(), 0)
	assert.NoError(t, tk.BeginPicture(refHeader(1, 2), 1))
	tk.FinishPicture()

	// frame_num 跳变且未声明允许
	err := tk.BeginPicture(refHeader(5, 10), 2)
	assert.Error(t, err)
}

func TestTrackerReferenceListP(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.MaxNumRefFrames = 4
	})

	decodeOne(t, tk, idrHeader(), 7)
	decodeOne(t, tk, refHeader(1, 2), 8)
	decodeOne(t, tk, refHeader(2, 4), 9)

	// P 片初始序按 pic_num 降序：最近的参考最靠前
	sh := refHeader(3, 6)
	assert.NoError(t, tk.BeginPicture(sh, 10))
	l0, l1, err := tk.ReferenceLists(sh)
	assert.NoError(t, err)
	assert.Equal(t, []int{9, 8, 7}, l0)
	assert.Nil(t, l1)
	tk.FinishPicture()
}

func TestTrackerReferenceListModification(t *testing.T) {
	tk := newTestTracker(t, func(sps *SPS) {
		sps.MaxNumRefFrames = 4
	})

	decodeOne(t, tk, idrHeader(), 0)
	decodeOne(t, tk, refHeader(1, 2), 1)
	decodeOne(t, tk, refHeader(2, 4), 2)

	// abs_diff_pic_num 3 指向 IDR，把它重排到首位
	sh := refHeader(3, 6)
	sh.RefPicListModL0 = []RefPicListMod{{Idc: 0, Value: 2}}
	assert.NoError(t, tk.BeginPicture(sh, 3))
	l0, _, err := tk.ReferenceLists(sh)
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, l0)
	tk.FinishPicture()
}

func TestTrackerReferenceListMissingPicture(t *testing.T) {
	tk := newTestTracker(t, nil)

	decodeOne(t, tk, idrHeader(), 0)

	// 指向不存在的 pic_num 是码流错误
	sh := refHeader(1, 2)
	sh.RefPicListModL0 = []RefPicListMod{{Idc: 0, Value: 5}}
	assert.NoError(t, tk.BeginPicture(sh, 1))
	_, _, err := tk.ReferenceLists(sh)
	assert.Error(t, err)
}

func TestTrackerReset(t *testing.T) {
	tk := newTestTracker(t, nil)

	decodeOne(t, tk, idrHeader(), 0)
	decodeOne(t, tk, refHeader(1, 2), 1)
	tk.Reset()

	assert.Empty(t, tk.LiveIndices())
	// 参数集保留，重置后可直接从 IDR 续流
	assert.NoError(t, tk.BeginPicture(idrHeader(), 0))
}
