// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"fmt"

	"github.com/cnotch/vdechub/utils"
	"github.com/cnotch/vdechub/utils/bits"
)

// PPS 图像参数集中解码簿记需要的字段
type PPS struct {
	PpsID uint32
	SpsID uint32

	EntropyCodingMode          bool
	BottomFieldPicOrderPresent bool
	NumRefIdxL0DefaultActive   uint32
	NumRefIdxL1DefaultActive   uint32
	WeightedPred               bool
	WeightedBipredIdc          uint8
	PicInitQp                  int32
	DeblockingFilterControl    bool
	ConstrainedIntraPred       bool
	RedundantPicCntPresent     bool
}

// DecodePPS 从带 NAL 头的单元中解析 PPS
func DecodePPS(nalu []byte) (*PPS, error) {
	rbsp := utils.RemoveH264or5EmulationBytes(nalu)
	if len(rbsp) < 2 {
		return nil, ErrNalMissing
	}
	if rbsp[0]&NalTypeBitmask != NalPps {
		return nil, fmt.Errorf("h264: not a pps nal unit; type = %d", rbsp[0]&NalTypeBitmask)
	}

	pps := &PPS{}
	if err := pps.decode(bits.NewReader(rbsp[1:])); err != nil {
		return nil, err
	}
	return pps, nil
}

func (pps *PPS) decode(r *bits.Reader) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("h264: pps is truncated; %v", r)
		}
	}()

	pps.PpsID = r.ReadUe()
	if pps.PpsID >= MaxPpsCount {
		return fmt.Errorf("h264: pic_parameter_set_id out of range: %d", pps.PpsID)
	}
	pps.SpsID = r.ReadUe()
	if pps.SpsID >= MaxSpsCount {
		return fmt.Errorf("h264: seq_parameter_set_id out of range: %d", pps.SpsID)
	}

	pps.EntropyCodingMode = r.ReadBool()
	pps.BottomFieldPicOrderPresent = r.ReadBool()

	// 多片组（FMO）按不支持处理
	if n := r.ReadUe(); n != 0 {
		return fmt.Errorf("h264: multiple slice groups are not supported: %d", n+1)
	}

	pps.NumRefIdxL0DefaultActive = r.ReadUe() + 1
	pps.NumRefIdxL1DefaultActive = r.ReadUe() + 1
	if pps.NumRefIdxL0DefaultActive > MaxRefs || pps.NumRefIdxL1DefaultActive > MaxRefs {
		return fmt.Errorf("h264: num_ref_idx_default_active out of range: %d/%d",
			pps.NumRefIdxL0DefaultActive, pps.NumRefIdxL1DefaultActive)
	}

	pps.WeightedPred = r.ReadBool()
	pps.WeightedBipredIdc = r.ReadUint8(2)
	pps.PicInitQp = r.ReadSe() + 26
	r.ReadSe() // pic_init_qs_minus26
	r.ReadSe() // chroma_qp_index_offset
	pps.DeblockingFilterControl = r.ReadBool()
	pps.ConstrainedIntraPred = r.ReadBool()
	pps.RedundantPicCntPresent = r.ReadBool()
	return nil
}
