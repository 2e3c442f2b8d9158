// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"fmt"

	"github.com/cnotch/vdechub/utils"
	"github.com/cnotch/vdechub/utils/bits"
)

// RefPicListMod 参考图像列表重排操作（7.3.3.1）
type RefPicListMod struct {
	Idc   uint32
	Value uint32 // abs_diff_pic_num_minus1 或 long_term_pic_num
}

// MMCO 解码参考图像标记操作（7.3.3.3）
type MMCO struct {
	Op       uint32
	Operand1 uint32
	Operand2 uint32
}

// SliceHeader 片头中簿记需要的字段
type SliceHeader struct {
	NalRefIdc      uint8
	IdrPic         bool
	FirstMbInSlice uint32
	SliceType      uint32 // 模 5 后的值
	PpsID          uint32
	FrameNum       uint32
	IdrPicID       uint32

	PicOrderCntLsb         uint32
	DeltaPicOrderCntBottom int32
	DeltaPicOrderCnt       [2]int32
	RedundantPicCnt        uint32
	NumRefIdxL0Active      uint32
	NumRefIdxL1Active      uint32
	RefPicListModL0        []RefPicListMod
	RefPicListModL1        []RefPicListMod
	NoOutputOfPriorPics    bool
	LongTermReferenceFlag  bool
	AdaptiveRefPicMarking  bool
	Mmcos                  []MMCO
}

// ParamSets 片头解析需要的参数集查找
type ParamSets interface {
	SPS(id uint32) *SPS
	PPS(id uint32) *PPS
}

// DecodeSliceHeader 从带 NAL 头的单元中解析片头。
// 隔行内容（场图）按不支持处理。
func DecodeSliceHeader(nalu []byte, ps ParamSets) (*SliceHeader, error) {
	rbsp := utils.RemoveH264or5EmulationBytes(nalu)
	if len(rbsp) < 2 {
		return nil, ErrNalMissing
	}

	nalType := rbsp[0] & NalTypeBitmask
	if nalType != NalSlice && nalType != NalIdrSlice {
		return nil, fmt.Errorf("h264: not a slice nal unit; type = %d", nalType)
	}

	sh := &SliceHeader{
		NalRefIdc: (rbsp[0] >> 5) & 3,
		IdrPic:    nalType == NalIdrSlice,
	}
	if err := sh.decode(bits.NewReader(rbsp[1:]), ps); err != nil {
		return nil, err
	}
	return sh, nil
}

func (sh *SliceHeader) decode(r *bits.Reader, ps ParamSets) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("h264: slice header is truncated; %v", r)
		}
	}()

	sh.FirstMbInSlice = r.ReadUe()
	sliceType := r.ReadUe()
	if sliceType > 9 {
		return fmt.Errorf("h264: slice_type out of range: %d", sliceType)
	}
	sh.SliceType = sliceType % 5

	sh.PpsID = r.ReadUe()
	pps := ps.PPS(sh.PpsID)
	if pps == nil {
		return fmt.Errorf("h264: pps %d is not available", sh.PpsID)
	}
	sps := ps.SPS(pps.SpsID)
	if sps == nil {
		return fmt.Errorf("h264: sps %d is not available", pps.SpsID)
	}

	sh.FrameNum = r.Read(int(sps.Log2MaxFrameNum))

	if !sps.FrameMbsOnly {
		if r.ReadBool() { // field_pic_flag
			return fmt.Errorf("h264: interlaced content is not supported")
		}
	}

	if sh.IdrPic {
		sh.IdrPicID = r.ReadUe()
	}

	switch sps.PicOrderCntType {
	case 0:
		sh.PicOrderCntLsb = r.Read(int(sps.Log2MaxPicOrderCntLsb))
		if pps.BottomFieldPicOrderPresent {
			sh.DeltaPicOrderCntBottom = r.ReadSe()
		}
	case 1:
		if !sps.DeltaPicOrderAlwaysZero {
			sh.DeltaPicOrderCnt[0] = r.ReadSe()
			if pps.BottomFieldPicOrderPresent {
				sh.DeltaPicOrderCnt[1] = r.ReadSe()
			}
		}
	}

	if pps.RedundantPicCntPresent {
		sh.RedundantPicCnt = r.ReadUe()
	}

	sh.NumRefIdxL0Active = pps.NumRefIdxL0DefaultActive
	sh.NumRefIdxL1Active = pps.NumRefIdxL1DefaultActive
	if sh.SliceType == SliceTypeB {
		r.Skip(1) // direct_spatial_mv_pred_flag
	}
	if sh.SliceType == SliceTypeP || sh.SliceType == SliceTypeSP || sh.SliceType == SliceTypeB {
		if r.ReadBool() { // num_ref_idx_active_override_flag
			sh.NumRefIdxL0Active = r.ReadUe() + 1
			if sh.SliceType == SliceTypeB {
				sh.NumRefIdxL1Active = r.ReadUe() + 1
			}
		}
		if sh.NumRefIdxL0Active > MaxRefs || sh.NumRefIdxL1Active > MaxRefs {
			return fmt.Errorf("h264: num_ref_idx_active out of range: %d/%d",
				sh.NumRefIdxL0Active, sh.NumRefIdxL1Active)
		}

		if sh.RefPicListModL0, err = decodeRefPicListMod(r); err != nil {
			return err
		}
		if sh.SliceType == SliceTypeB {
			if sh.RefPicListModL1, err = decodeRefPicListMod(r); err != nil {
				return err
			}
		}
	}

	// 加权预测表和其后的字段与簿记无关，硬件自行消费；
	// 标记操作位于其前，顺序见 7.3.3
	if sh.NalRefIdc != 0 {
		if err = sh.decodeDecRefPicMarking(r); err != nil {
			return err
		}
	}
	return nil
}

func decodeRefPicListMod(r *bits.Reader) ([]RefPicListMod, error) {
	if !r.ReadBool() { // ref_pic_list_modification_flag
		return nil, nil
	}

	var mods []RefPicListMod
	for {
		idc := r.ReadUe()
		if idc == 3 {
			return mods, nil
		}
		if idc > 3 {
			return nil, fmt.Errorf("h264: modification_of_pic_nums_idc out of range: %d", idc)
		}
		if len(mods) >= MaxRplmCount {
			return nil, fmt.Errorf("h264: too many ref_pic_list modifications")
		}
		mods = append(mods, RefPicListMod{Idc: idc, Value: r.ReadUe()})
	}
}

func (sh *SliceHeader) decodeDecRefPicMarking(r *bits.Reader) error {
	if sh.IdrPic {
		sh.NoOutputOfPriorPics = r.ReadBool()
		sh.LongTermReferenceFlag = r.ReadBool()
		return nil
	}

	sh.AdaptiveRefPicMarking = r.ReadBool()
	if !sh.AdaptiveRefPicMarking {
		return nil
	}

	for {
		op := r.ReadUe()
		if op == 0 {
			return nil
		}
		if op > 6 {
			return fmt.Errorf("h264: memory_management_control_operation out of range: %d", op)
		}
		if len(sh.Mmcos) >= MaxMmcoCount {
			return fmt.Errorf("h264: too many memory management control operations")
		}

		mmco := MMCO{Op: op}
		switch op {
		case 1, 3:
			mmco.Operand1 = r.ReadUe() // difference_of_pic_nums_minus1
			if op == 3 {
				mmco.Operand2 = r.ReadUe() // long_term_frame_idx
			}
		case 2:
			mmco.Operand1 = r.ReadUe() // long_term_pic_num
		case 4:
			mmco.Operand1 = r.ReadUe() // max_long_term_frame_idx_plus1
		case 6:
			mmco.Operand1 = r.ReadUe() // long_term_frame_idx
		}
		sh.Mmcos = append(sh.Mmcos, mmco)
	}
}

// SamePicture 两个片头是否属于同一幅图像（7.4.1.2.4 的关键字段）
func (sh *SliceHeader) SamePicture(other *SliceHeader) bool {
	return sh.FrameNum == other.FrameNum &&
		sh.PpsID == other.PpsID &&
		sh.IdrPic == other.IdrPic &&
		sh.IdrPicID == other.IdrPicID &&
		sh.PicOrderCntLsb == other.PicOrderCntLsb &&
		sh.DeltaPicOrderCnt == other.DeltaPicOrderCnt &&
		(sh.NalRefIdc == 0) == (other.NalRefIdc == 0)
}
