// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"github.com/cnotch/vdechub/utils/bits"
)

// 本文件从结构化的参数重新编码 NAL 单元。
// 硬件解析器给出的是寄存器形式的头字段，软件簿记走标准的
// 码流路径，这里负责两者之间的桥接。

// EncodeSPS 重新编码 SPS，输出带 NAL 头的单元
func EncodeSPS(sps *SPS) []byte {
	w := bits.NewWriter()
	w.Write(8, uint32(sps.ProfileIdc))
	w.Write(8, uint32(sps.ConstraintSet))
	w.Write(8, uint32(sps.LevelIdc))
	w.WriteUe(sps.SpsID)

	switch sps.ProfileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		w.WriteUe(sps.ChromaFormatIdc)
		if sps.ChromaFormatIdc == 3 {
			w.WriteBit(0) // separate_colour_plane_flag
		}
		w.WriteUe(0)  // bit_depth_luma_minus8
		w.WriteUe(0)  // bit_depth_chroma_minus8
		w.WriteBit(0) // qpprime_y_zero_transform_bypass_flag
		w.WriteBit(0) // seq_scaling_matrix_present_flag
	}

	w.WriteUe(sps.Log2MaxFrameNum - 4)
	w.WriteUe(sps.PicOrderCntType)
	switch sps.PicOrderCntType {
	case 0:
		w.WriteUe(sps.Log2MaxPicOrderCntLsb - 4)
	case 1:
		w.WriteBool(sps.DeltaPicOrderAlwaysZero)
		w.WriteSe(sps.OffsetForNonRefPic)
		w.WriteSe(sps.OffsetForTopToBottomField)
		w.WriteUe(sps.NumRefFramesInPocCycle)
		for i := uint32(0); i < sps.NumRefFramesInPocCycle; i++ {
			w.WriteSe(sps.OffsetForRefFrame[i])
		}
	}

	w.WriteUe(sps.MaxNumRefFrames)
	w.WriteBool(sps.GapsInFrameNumValueAllowed)
	w.WriteUe(sps.PicWidthInMbs - 1)
	w.WriteUe(sps.PicHeightInMapUnits - 1)

	w.WriteBool(sps.FrameMbsOnly)
	if !sps.FrameMbsOnly {
		w.WriteBool(sps.MbAdaptiveFrameField)
	}
	w.WriteBool(sps.Direct8x8Inference)

	w.WriteBool(sps.FrameCropping)
	if sps.FrameCropping {
		w.WriteUe(sps.CropLeft)
		w.WriteUe(sps.CropRight)
		w.WriteUe(sps.CropTop)
		w.WriteUe(sps.CropBottom)
	}

	w.WriteBool(sps.AspectRatioInfo) // vui_parameters_present_flag
	if sps.AspectRatioInfo {
		w.WriteBool(true) // aspect_ratio_info_present_flag
		w.Write(8, 255)   // extended SAR
		w.Write(16, uint32(sps.SarWidth))
		w.Write(16, uint32(sps.SarHeight))
	}

	w.WriteTrailingBits()
	return packNalu(3<<5|NalSps, w.Bytes())
}

// EncodePPS 重新编码 PPS，输出带 NAL 头的单元
func EncodePPS(pps *PPS) []byte {
	w := bits.NewWriter()
	w.WriteUe(pps.PpsID)
	w.WriteUe(pps.SpsID)
	w.WriteBool(pps.EntropyCodingMode)
	w.WriteBool(pps.BottomFieldPicOrderPresent)
	w.WriteUe(0) // num_slice_groups_minus1
	w.WriteUe(pps.NumRefIdxL0DefaultActive - 1)
	w.WriteUe(pps.NumRefIdxL1DefaultActive - 1)
	w.WriteBool(pps.WeightedPred)
	w.Write(2, uint32(pps.WeightedBipredIdc))
	w.WriteSe(pps.PicInitQp - 26)
	w.WriteSe(0) // pic_init_qs_minus26
	w.WriteSe(0) // chroma_qp_index_offset
	w.WriteBool(pps.DeblockingFilterControl)
	w.WriteBool(pps.ConstrainedIntraPred)
	w.WriteBool(pps.RedundantPicCntPresent)
	w.WriteTrailingBits()
	return packNalu(3<<5|NalPps, w.Bytes())
}

// EncodeSliceHeader 重新编码片头，输出带 NAL 头的单元。
// 片头之后的语法元素不再出现，单元在标记操作后用对齐位收尾。
func EncodeSliceHeader(sh *SliceHeader, sps *SPS, pps *PPS) []byte {
	w := bits.NewWriter()
	w.WriteUe(sh.FirstMbInSlice)
	w.WriteUe(sh.SliceType)
	w.WriteUe(sh.PpsID)
	w.Write(int(sps.Log2MaxFrameNum), sh.FrameNum)

	if !sps.FrameMbsOnly {
		w.WriteBit(0) // field_pic_flag
	}

	if sh.IdrPic {
		w.WriteUe(sh.IdrPicID)
	}

	switch sps.PicOrderCntType {
	case 0:
		w.Write(int(sps.Log2MaxPicOrderCntLsb), sh.PicOrderCntLsb)
		if pps.BottomFieldPicOrderPresent {
			w.WriteSe(sh.DeltaPicOrderCntBottom)
		}
	case 1:
		if !sps.DeltaPicOrderAlwaysZero {
			w.WriteSe(sh.DeltaPicOrderCnt[0])
			if pps.BottomFieldPicOrderPresent {
				w.WriteSe(sh.DeltaPicOrderCnt[1])
			}
		}
	}

	if pps.RedundantPicCntPresent {
		w.WriteUe(sh.RedundantPicCnt)
	}

	if sh.SliceType == SliceTypeB {
		w.WriteBit(0) // direct_spatial_mv_pred_flag
	}
	if sh.SliceType == SliceTypeP || sh.SliceType == SliceTypeSP || sh.SliceType == SliceTypeB {
		override := sh.NumRefIdxL0Active != pps.NumRefIdxL0DefaultActive ||
			(sh.SliceType == SliceTypeB && sh.NumRefIdxL1Active != pps.NumRefIdxL1DefaultActive)
		w.WriteBool(override)
		if override {
			w.WriteUe(sh.NumRefIdxL0Active - 1)
			if sh.SliceType == SliceTypeB {
				w.WriteUe(sh.NumRefIdxL1Active - 1)
			}
		}

		encodeRefPicListMod(w, sh.RefPicListModL0)
		if sh.SliceType == SliceTypeB {
			encodeRefPicListMod(w, sh.RefPicListModL1)
		}
	}

	if sh.NalRefIdc != 0 {
		if sh.IdrPic {
			w.WriteBool(sh.NoOutputOfPriorPics)
			w.WriteBool(sh.LongTermReferenceFlag)
		} else {
			w.WriteBool(sh.AdaptiveRefPicMarking)
			if sh.AdaptiveRefPicMarking {
				for _, mmco := range sh.Mmcos {
					w.WriteUe(mmco.Op)
					switch mmco.Op {
					case 1, 3:
						w.WriteUe(mmco.Operand1)
						if mmco.Op == 3 {
							w.WriteUe(mmco.Operand2)
						}
					case 2, 4, 6:
						w.WriteUe(mmco.Operand1)
					}
				}
				w.WriteUe(0)
			}
		}
	}

	w.WriteTrailingBits()

	naluType := uint8(NalSlice)
	if sh.IdrPic {
		naluType = NalIdrSlice
	}
	return packNalu(sh.NalRefIdc<<5|naluType, w.Bytes())
}

func encodeRefPicListMod(w *bits.Writer, mods []RefPicListMod) {
	if len(mods) == 0 {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	for _, mod := range mods {
		w.WriteUe(mod.Idc)
		w.WriteUe(mod.Value)
	}
	w.WriteUe(3)
}

// packNalu 加上 NAL 头并插入仿真防止字节
func packNalu(header uint8, rbsp []byte) []byte {
	nalu := make([]byte, 0, len(rbsp)+len(rbsp)/16+1)
	nalu = append(nalu, header)

	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			nalu = append(nalu, 3)
			zeros = 0
		}
		nalu = append(nalu, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return nalu
}
