// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"encoding/binary"
	"fmt"

	"github.com/cnotch/vdechub/av/h264"
)

// 片头中断时固件把参数块从核内局部存储 DMA 到这块缓冲，
// 布局是 16 位小端字的固定表。软件从这里重建标准 NAL 单元
// 喂给参考帧簿记，硬件只负责像素解码。

// lmemSize 参数块缓冲尺寸
const lmemSize = 1024

// 参数块字偏移
const (
	pSliceType = iota
	pFirstMbInSlice
	pFrameNum
	pPicOrderCntLsbLo
	pPicOrderCntLsbHi
	pNalRefIdc
	pNalUnitType
	pIdrPicID
	pDeltaPicOrderCnt0Lo
	pDeltaPicOrderCnt0Hi
	pDeltaPicOrderCnt1Lo
	pDeltaPicOrderCnt1Hi

	pProfileIdc
	pLevelIdc
	pLog2MaxFrameNum
	pPicOrderCntType
	pLog2MaxPicOrderCntLsb
	pMaxNumRefFrames
	pMbWidth
	pMbHeight
	pFrameMbsOnly
	pCropLeft
	pCropRight
	pCropTop
	pCropBottom

	pEntropyCodingMode
	pNumRefIdxL0Default
	pNumRefIdxL1Default
	pWeightedPred
	pWeightedBipredIdc

	pNumRefIdxL0Active
	pNumRefIdxL1Active
	pIdrFlags // bit0 no_output_of_prior_pics, bit1 long_term_reference
	pAdaptiveMarking

	pMmcoCount
	pMmcoTable // maxMmcoEntries 组 (op, operand1, operand2)
)

const (
	maxMmcoEntries = 8
	maxRplmEntries = 8

	pRplmL0Count = pMmcoTable + 3*maxMmcoEntries
	pRplmL0Table = pRplmL0Count + 1 // maxRplmEntries 组 (idc, value)
	pRplmL1Count = pRplmL0Table + 2*maxRplmEntries
	pRplmL1Table = pRplmL1Count + 1

	paramWords = pRplmL1Table + 2*maxRplmEntries
)

// idr 标志位
const (
	idrNoOutputOfPriorPics = 1 << 0
	idrLongTermReference   = 1 << 1
)

// nal_unit_type 判定用
const nalUnitTypeIdr = 5

type paramBlock []byte

func (p paramBlock) word(i int) uint32 {
	return uint32(binary.LittleEndian.Uint16(p[2*i:]))
}

func (p paramBlock) word32(lo int) uint32 {
	return p.word(lo) | p.word(lo+1)<<16
}

// decodeSliceParams 把参数块翻译回结构化的 SPS/PPS/片头。
// 字段范围校验交给重编码-重解码的往返：越界値在那一步按坏流报错。
func decodeSliceParams(raw []byte) (*h264.SPS, *h264.PPS, *h264.SliceHeader, error) {
	if len(raw) < 2*paramWords {
		return nil, nil, nil, fmt.Errorf("h264: short parameter block: %d bytes", len(raw))
	}
	p := paramBlock(raw)

	sps := &h264.SPS{
		ProfileIdc:            uint8(p.word(pProfileIdc)),
		LevelIdc:              uint8(p.word(pLevelIdc)),
		ChromaFormatIdc:       1,
		Log2MaxFrameNum:       p.word(pLog2MaxFrameNum),
		PicOrderCntType:       p.word(pPicOrderCntType),
		Log2MaxPicOrderCntLsb: p.word(pLog2MaxPicOrderCntLsb),
		MaxNumRefFrames:       p.word(pMaxNumRefFrames),
		PicWidthInMbs:         p.word(pMbWidth),
		PicHeightInMapUnits:   p.word(pMbHeight),
		FrameMbsOnly:          p.word(pFrameMbsOnly) != 0,
		Direct8x8Inference:    true,
		CropLeft:              p.word(pCropLeft),
		CropRight:             p.word(pCropRight),
		CropTop:               p.word(pCropTop),
		CropBottom:            p.word(pCropBottom),
	}
	sps.FrameCropping = sps.CropLeft|sps.CropRight|sps.CropTop|sps.CropBottom != 0

	pps := &h264.PPS{
		EntropyCodingMode:        p.word(pEntropyCodingMode) != 0,
		NumRefIdxL0DefaultActive: p.word(pNumRefIdxL0Default),
		NumRefIdxL1DefaultActive: p.word(pNumRefIdxL1Default),
		WeightedPred:             p.word(pWeightedPred) != 0,
		WeightedBipredIdc:        uint8(p.word(pWeightedBipredIdc)),
		PicInitQp:                26,
	}

	sh := &h264.SliceHeader{
		NalRefIdc:      uint8(p.word(pNalRefIdc)),
		IdrPic:         p.word(pNalUnitType) == nalUnitTypeIdr,
		FirstMbInSlice: p.word(pFirstMbInSlice),
		SliceType:      p.word(pSliceType) % 5,
		FrameNum:       p.word(pFrameNum),
		IdrPicID:       p.word(pIdrPicID),
		PicOrderCntLsb: p.word32(pPicOrderCntLsbLo),
	}
	sh.DeltaPicOrderCnt[0] = int32(p.word32(pDeltaPicOrderCnt0Lo))
	sh.DeltaPicOrderCnt[1] = int32(p.word32(pDeltaPicOrderCnt1Lo))

	sh.NumRefIdxL0Active = p.word(pNumRefIdxL0Active)
	sh.NumRefIdxL1Active = p.word(pNumRefIdxL1Active)
	if sh.NumRefIdxL0Active == 0 {
		sh.NumRefIdxL0Active = pps.NumRefIdxL0DefaultActive
	}
	if sh.NumRefIdxL1Active == 0 {
		sh.NumRefIdxL1Active = pps.NumRefIdxL1DefaultActive
	}

	if sh.IdrPic && sh.NalRefIdc != 0 {
		flags := p.word(pIdrFlags)
		sh.NoOutputOfPriorPics = flags&idrNoOutputOfPriorPics != 0
		sh.LongTermReferenceFlag = flags&idrLongTermReference != 0
	}

	if !sh.IdrPic && sh.NalRefIdc != 0 && p.word(pAdaptiveMarking) != 0 {
		sh.AdaptiveRefPicMarking = true
		n := int(p.word(pMmcoCount))
		if n > maxMmcoEntries {
			return nil, nil, nil, fmt.Errorf("h264: mmco count out of range: %d", n)
		}
		for i := 0; i < n; i++ {
			base := pMmcoTable + 3*i
			sh.Mmcos = append(sh.Mmcos, h264.MMCO{
				Op:       p.word(base),
				Operand1: p.word(base + 1),
				Operand2: p.word(base + 2),
			})
		}
	}

	var err error
	if sh.RefPicListModL0, err = decodeRplmTable(p, pRplmL0Count, pRplmL0Table); err != nil {
		return nil, nil, nil, err
	}
	if sh.SliceType == h264.SliceTypeB {
		if sh.RefPicListModL1, err = decodeRplmTable(p, pRplmL1Count, pRplmL1Table); err != nil {
			return nil, nil, nil, err
		}
	}

	return sps, pps, sh, nil
}

func decodeRplmTable(p paramBlock, countAt, tableAt int) ([]h264.RefPicListMod, error) {
	n := int(p.word(countAt))
	if n > maxRplmEntries {
		return nil, fmt.Errorf("h264: ref list modification count out of range: %d", n)
	}

	var mods []h264.RefPicListMod
	for i := 0; i < n; i++ {
		base := tableAt + 2*i
		mods = append(mods, h264.RefPicListMod{Idc: p.word(base), Value: p.word(base + 1)})
	}
	return mods, nil
}
