// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"errors"
	"fmt"

	"github.com/cnotch/vdechub/utils"
	"github.com/cnotch/vdechub/utils/bits"
)

// 解析错误
var (
	ErrNalMissing = errors.New("h264: nal unit is empty")
)

// SPS 序列参数集中解码簿记需要的字段
type SPS struct {
	ProfileIdc    uint8
	ConstraintSet uint8
	LevelIdc      uint8
	SpsID         uint32

	ChromaFormatIdc         uint32
	Log2MaxFrameNum         uint32 // log2_max_frame_num_minus4 + 4
	PicOrderCntType         uint32
	Log2MaxPicOrderCntLsb   uint32 // log2_max_pic_order_cnt_lsb_minus4 + 4
	DeltaPicOrderAlwaysZero bool

	// poc type 1
	OffsetForNonRefPic         int32
	OffsetForTopToBottomField  int32
	NumRefFramesInPocCycle     uint32
	OffsetForRefFrame          [MaxRefs]int32
	MaxNumRefFrames            uint32
	GapsInFrameNumValueAllowed bool

	PicWidthInMbs        uint32 // pic_width_in_mbs_minus1 + 1
	PicHeightInMapUnits  uint32 // pic_height_in_map_units_minus1 + 1
	FrameMbsOnly         bool
	MbAdaptiveFrameField bool
	Direct8x8Inference   bool

	FrameCropping   bool
	CropLeft        uint32
	CropRight       uint32
	CropTop         uint32
	CropBottom      uint32
	AspectRatioInfo bool
	SarWidth        uint16
	SarHeight       uint16
}

// DecodeSPS 从带 NAL 头的单元中解析 SPS
func DecodeSPS(nalu []byte) (*SPS, error) {
	rbsp := utils.RemoveH264or5EmulationBytes(nalu)
	if len(rbsp) < 4 {
		return nil, ErrNalMissing
	}
	if rbsp[0]&NalTypeBitmask != NalSps {
		return nil, fmt.Errorf("h264: not a sps nal unit; type = %d", rbsp[0]&NalTypeBitmask)
	}

	sps := &SPS{}
	if err := sps.decode(bits.NewReader(rbsp[1:])); err != nil {
		return nil, err
	}
	return sps, nil
}

func (sps *SPS) decode(r *bits.Reader) (err error) {
	defer func() {
		// 比特流越界按损坏的参数集处理
		if r := recover(); r != nil {
			err = fmt.Errorf("h264: sps is truncated; %v", r)
		}
	}()

	sps.ProfileIdc = r.ReadUint8(8)
	sps.ConstraintSet = r.ReadUint8(8)
	sps.LevelIdc = r.ReadUint8(8)
	sps.SpsID = r.ReadUe()
	if sps.SpsID >= MaxSpsCount {
		return fmt.Errorf("h264: seq_parameter_set_id out of range: %d", sps.SpsID)
	}

	sps.ChromaFormatIdc = 1
	switch sps.ProfileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		sps.ChromaFormatIdc = r.ReadUe()
		if sps.ChromaFormatIdc == 3 {
			r.Skip(1) // separate_colour_plane_flag
		}
		r.ReadUe() // bit_depth_luma_minus8
		r.ReadUe() // bit_depth_chroma_minus8
		r.Skip(1)  // qpprime_y_zero_transform_bypass_flag
		if r.ReadBool() {
			// seq_scaling_matrix_present_flag
			count := 8
			if sps.ChromaFormatIdc == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				if r.ReadBool() {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	sps.Log2MaxFrameNum = r.ReadUe() + 4
	if sps.Log2MaxFrameNum > 16 {
		return fmt.Errorf("h264: log2_max_frame_num out of range: %d", sps.Log2MaxFrameNum)
	}

	sps.PicOrderCntType = r.ReadUe()
	switch sps.PicOrderCntType {
	case 0:
		sps.Log2MaxPicOrderCntLsb = r.ReadUe() + 4
		if sps.Log2MaxPicOrderCntLsb > 16 {
			return fmt.Errorf("h264: log2_max_pic_order_cnt_lsb out of range: %d", sps.Log2MaxPicOrderCntLsb)
		}
	case 1:
		sps.DeltaPicOrderAlwaysZero = r.ReadBool()
		sps.OffsetForNonRefPic = r.ReadSe()
		sps.OffsetForTopToBottomField = r.ReadSe()
		sps.NumRefFramesInPocCycle = r.ReadUe()
		if sps.NumRefFramesInPocCycle > MaxRefs {
			return fmt.Errorf("h264: num_ref_frames_in_pic_order_cnt_cycle out of range: %d",
				sps.NumRefFramesInPocCycle)
		}
		for i := uint32(0); i < sps.NumRefFramesInPocCycle; i++ {
			sps.OffsetForRefFrame[i] = r.ReadSe()
		}
	case 2:
		// 无附加字段
	default:
		return fmt.Errorf("h264: pic_order_cnt_type out of range: %d", sps.PicOrderCntType)
	}

	sps.MaxNumRefFrames = r.ReadUe()
	if sps.MaxNumRefFrames > MaxDpbFrames {
		return fmt.Errorf("h264: max_num_ref_frames out of range: %d", sps.MaxNumRefFrames)
	}
	sps.GapsInFrameNumValueAllowed = r.ReadBool()

	sps.PicWidthInMbs = r.ReadUe() + 1
	sps.PicHeightInMapUnits = r.ReadUe() + 1
	if sps.PicWidthInMbs > MaxMbWidth || sps.PicHeightInMapUnits > MaxMbHeight {
		return fmt.Errorf("h264: picture size out of range: %dx%d mbs",
			sps.PicWidthInMbs, sps.PicHeightInMapUnits)
	}

	sps.FrameMbsOnly = r.ReadBool()
	if !sps.FrameMbsOnly {
		sps.MbAdaptiveFrameField = r.ReadBool()
	}
	sps.Direct8x8Inference = r.ReadBool()

	sps.FrameCropping = r.ReadBool()
	if sps.FrameCropping {
		sps.CropLeft = r.ReadUe()
		sps.CropRight = r.ReadUe()
		sps.CropTop = r.ReadUe()
		sps.CropBottom = r.ReadUe()
	}

	if r.ReadBool() { // vui_parameters_present_flag
		sps.decodeVui(r)
	}
	return nil
}

// decodeVui 只取样点高宽比，其余 VUI 字段与簿记无关
func (sps *SPS) decodeVui(r *bits.Reader) {
	sps.AspectRatioInfo = r.ReadBool()
	if !sps.AspectRatioInfo {
		return
	}

	const extendedSar = 255
	idc := r.ReadUint8(8)
	if idc == extendedSar {
		sps.SarWidth = r.ReadUint16(16)
		sps.SarHeight = r.ReadUint16(16)
		return
	}
	// 表 E-1
	var sarTable = [...][2]uint16{
		{0, 0}, {1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11},
		{32, 11}, {80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3}, {3, 2}, {2, 1},
	}
	if int(idc) < len(sarTable) {
		sps.SarWidth = sarTable[idc][0]
		sps.SarHeight = sarTable[idc][1]
	}
}

func skipScalingList(r *bits.Reader, size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			nextScale = (lastScale + r.ReadSe() + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

// FrameCropUnitY 帧裁切的垂直单位
func (sps *SPS) frameCropUnits() (x, y uint32) {
	// 4:2:0 之外的色度格式这里用不到，按表 6-1 的常见取值
	x, y = 2, 2
	if !sps.FrameMbsOnly {
		y *= 2
	}
	if sps.ChromaFormatIdc == 0 || sps.ChromaFormatIdc == 3 {
		x, y = 1, 1
		if !sps.FrameMbsOnly {
			y = 2
		}
	}
	return
}

// CodedWidth 编码宽（宏块对齐）
func (sps *SPS) CodedWidth() int { return int(sps.PicWidthInMbs) * 16 }

// CodedHeight 编码高（宏块对齐）
func (sps *SPS) CodedHeight() int {
	h := int(sps.PicHeightInMapUnits) * 16
	if !sps.FrameMbsOnly {
		h *= 2
	}
	return h
}

// Width 显示宽
func (sps *SPS) Width() int {
	x, _ := sps.frameCropUnits()
	return sps.CodedWidth() - int(x)*int(sps.CropLeft+sps.CropRight)
}

// Height 显示高
func (sps *SPS) Height() int {
	_, y := sps.frameCropUnits()
	return sps.CodedHeight() - int(y)*int(sps.CropTop+sps.CropBottom)
}
