// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"fmt"
)

// Output 按显示顺序弹出的一幅图像
type Output struct {
	FrameIndex int
	Poc        int32
}

// picture DPB 中的一幅图像
type picture struct {
	frameIndex       int
	frameNum         uint32
	frameNumWrap     int32
	picNum           int32
	poc              int32
	referenced       bool
	longTerm         bool
	longTermFrameIdx uint32
	needsOutput      bool
}

// Tracker 软件侧的 H264 码流状态跟踪。
// 硬件做像素解码，参考帧簿记、POC 计算和标记操作在这里完成。
type Tracker struct {
	spss map[uint32]*SPS
	ppss map[uint32]*PPS
	sps  *SPS // 激活的参数集
	pps  *PPS

	dpb    []*picture
	cur    *picture
	curHdr *SliceHeader

	maxLongTermFrameIdx int32

	// poc 状态
	prevPocMsb         int32
	prevPocLsb         uint32
	prevFrameNumOffset uint32
	prevRefFrameNum    uint32
}

// NewTracker 创建跟踪器
func NewTracker() *Tracker {
	return &Tracker{
		spss:                make(map[uint32]*SPS),
		ppss:                make(map[uint32]*PPS),
		maxLongTermFrameIdx: -1,
	}
}

// SPS 查找序列参数集
func (t *Tracker) SPS(id uint32) *SPS { return t.spss[id] }

// PPS 查找图像参数集
func (t *Tracker) PPS(id uint32) *PPS { return t.ppss[id] }

// ActiveSPS 当前激活的序列参数集
func (t *Tracker) ActiveSPS() *SPS { return t.sps }

// DecodeParamSet 解析并登记 SPS/PPS 单元
func (t *Tracker) DecodeParamSet(nalu []byte) error {
	if len(nalu) == 0 {
		return ErrNalMissing
	}

	switch nalu[0] & NalTypeBitmask {
	case NalSps:
		sps, err := DecodeSPS(nalu)
		if err != nil {
			return err
		}
		t.spss[sps.SpsID] = sps
	case NalPps:
		pps, err := DecodePPS(nalu)
		if err != nil {
			return err
		}
		t.ppss[pps.PpsID] = pps
	default:
		return fmt.Errorf("h264: not a parameter set nal unit; type = %d", nalu[0]&NalTypeBitmask)
	}
	return nil
}

// BeginPicture 开始一幅新图像：激活参数集、校验 frame_num、计算 POC。
// frameIndex 是本图像占用的输出缓冲序号。
func (t *Tracker) BeginPicture(sh *SliceHeader, frameIndex int) error {
	if t.cur != nil {
		return fmt.Errorf("h264: previous picture is not finished")
	}

	pps := t.ppss[sh.PpsID]
	if pps == nil {
		return fmt.Errorf("h264: pps %d is not available", sh.PpsID)
	}
	sps := t.spss[pps.SpsID]
	if sps == nil {
		return fmt.Errorf("h264: sps %d is not available", pps.SpsID)
	}
	t.sps, t.pps = sps, pps

	if err := t.checkFrameNum(sh); err != nil {
		return err
	}

	t.cur = &picture{
		frameIndex:  frameIndex,
		frameNum:    sh.FrameNum,
		poc:         t.computePoc(sh),
		referenced:  sh.NalRefIdc != 0,
		needsOutput: true,
	}
	t.curHdr = sh
	return nil
}

// checkFrameNum frame_num 的合法推进校验（8.2.5.2）
func (t *Tracker) checkFrameNum(sh *SliceHeader) error {
	if sh.IdrPic {
		if sh.FrameNum != 0 {
			return fmt.Errorf("h264: idr picture with frame_num %d", sh.FrameNum)
		}
		return nil
	}

	if len(t.shortTerm()) == 0 {
		return nil
	}

	maxFrameNum := uint32(1) << t.sps.Log2MaxFrameNum
	expected := (t.prevRefFrameNum + 1) % maxFrameNum
	if sh.FrameNum != t.prevRefFrameNum && sh.FrameNum != expected &&
		!t.sps.GapsInFrameNumValueAllowed {
		return fmt.Errorf("h264: frame_num gap: got %d, expected %d", sh.FrameNum, expected)
	}
	return nil
}

// computePoc 图像顺序号计算（8.2.1）
func (t *Tracker) computePoc(sh *SliceHeader) int32 {
	sps := t.sps
	switch sps.PicOrderCntType {
	case 0:
		if sh.IdrPic {
			t.prevPocMsb, t.prevPocLsb = 0, 0
		}
		maxLsb := uint32(1) << sps.Log2MaxPicOrderCntLsb
		lsb := sh.PicOrderCntLsb

		msb := t.prevPocMsb
		switch {
		case lsb < t.prevPocLsb && t.prevPocLsb-lsb >= maxLsb/2:
			msb += int32(maxLsb)
		case lsb > t.prevPocLsb && lsb-t.prevPocLsb > maxLsb/2:
			msb -= int32(maxLsb)
		}

		if sh.NalRefIdc != 0 {
			t.prevPocMsb, t.prevPocLsb = msb, lsb
		}
		return msb + int32(lsb)

	case 1:
		offset := t.frameNumOffset(sh)
		var absFrameNum uint32
		if sps.NumRefFramesInPocCycle != 0 {
			absFrameNum = offset + sh.FrameNum
		}
		if sh.NalRefIdc == 0 && absFrameNum > 0 {
			absFrameNum--
		}

		var expected int32
		if absFrameNum > 0 {
			cycle := sps.NumRefFramesInPocCycle
			picOrderCntCycleCnt := (absFrameNum - 1) / cycle
			frameNumInCycle := (absFrameNum - 1) % cycle

			var deltaPerCycle int32
			for i := uint32(0); i < cycle; i++ {
				deltaPerCycle += sps.OffsetForRefFrame[i]
			}
			expected = int32(picOrderCntCycleCnt) * deltaPerCycle
			for i := uint32(0); i <= frameNumInCycle; i++ {
				expected += sps.OffsetForRefFrame[i]
			}
		}
		if sh.NalRefIdc == 0 {
			expected += sps.OffsetForNonRefPic
		}
		return expected + sh.DeltaPicOrderCnt[0]

	default: // type 2: 解码序即显示序
		offset := t.frameNumOffset(sh)
		poc := 2 * int32(offset+sh.FrameNum)
		if sh.NalRefIdc == 0 {
			poc--
		}
		return poc
	}
}

func (t *Tracker) frameNumOffset(sh *SliceHeader) uint32 {
	maxFrameNum := uint32(1) << t.sps.Log2MaxFrameNum
	switch {
	case sh.IdrPic:
		t.prevFrameNumOffset = 0
	case t.prevRefFrameNum > sh.FrameNum:
		t.prevFrameNumOffset += maxFrameNum
	}
	return t.prevFrameNumOffset
}

// FinishPicture 图像解码完成：执行参考标记，按显示顺序弹出可输出图像。
func (t *Tracker) FinishPicture() (outputs []Output, err error) {
	if t.cur == nil {
		return nil, fmt.Errorf("h264: no picture in progress")
	}
	cur, sh := t.cur, t.curHdr
	t.cur, t.curHdr = nil, nil

	if sh.IdrPic {
		// 先清空 DPB，必要时把未输出图像都弹出
		if !sh.NoOutputOfPriorPics {
			outputs = append(outputs, t.drainOutputs()...)
		}
		for _, p := range t.dpb {
			p.referenced = false
			p.needsOutput = false
		}
		t.compact()
		t.maxLongTermFrameIdx = -1

		if sh.LongTermReferenceFlag {
			cur.longTerm = true
			cur.longTermFrameIdx = 0
			t.maxLongTermFrameIdx = 0
		}
	} else if cur.referenced {
		if sh.AdaptiveRefPicMarking {
			if err = t.applyMmcos(cur, sh); err != nil {
				return nil, err
			}
		} else {
			t.slidingWindow()
		}
	}

	if cur.referenced {
		t.prevRefFrameNum = cur.frameNum
	}
	t.dpb = append(t.dpb, cur)

	outputs = append(outputs, t.bump()...)
	t.compact()
	return outputs, nil
}

// slidingWindow 滑窗：参考帧满时退休 frameNumWrap 最小的短期参考（8.2.5.3）
func (t *Tracker) slidingWindow() {
	numRefs := len(t.shortTerm()) + len(t.longTermPics())
	max := int(t.sps.MaxNumRefFrames)
	if max < 1 {
		max = 1
	}
	if numRefs < max {
		return
	}

	t.updatePicNums(t.prevRefFrameNum + 1) // wrap 基准无关紧要，只需一致
	var victim *picture
	for _, p := range t.shortTerm() {
		if victim == nil || p.frameNumWrap < victim.frameNumWrap {
			victim = p
		}
	}
	if victim != nil {
		victim.referenced = false
	}
}

// applyMmcos 显式标记操作（8.2.5.4）
func (t *Tracker) applyMmcos(cur *picture, sh *SliceHeader) error {
	t.updatePicNums(cur.frameNum)
	curPicNum := int32(cur.frameNum)

	for _, mmco := range sh.Mmcos {
		switch mmco.Op {
		case 1:
			picNum := curPicNum - int32(mmco.Operand1) - 1
			p := t.findShortTerm(picNum)
			if p == nil {
				return fmt.Errorf("h264: mmco 1 refers to missing pic_num %d", picNum)
			}
			p.referenced = false
		case 2:
			p := t.findLongTerm(mmco.Operand1)
			if p == nil {
				return fmt.Errorf("h264: mmco 2 refers to missing long_term_pic_num %d", mmco.Operand1)
			}
			p.referenced = false
		case 3:
			picNum := curPicNum - int32(mmco.Operand1) - 1
			p := t.findShortTerm(picNum)
			if p == nil {
				return fmt.Errorf("h264: mmco 3 refers to missing pic_num %d", picNum)
			}
			if old := t.findLongTerm(mmco.Operand2); old != nil && old != p {
				old.referenced = false
			}
			p.longTerm = true
			p.longTermFrameIdx = mmco.Operand2
		case 4:
			t.maxLongTermFrameIdx = int32(mmco.Operand1) - 1
			for _, p := range t.longTermPics() {
				if int32(p.longTermFrameIdx) > t.maxLongTermFrameIdx {
					p.referenced = false
				}
			}
		case 5:
			for _, p := range t.dpb {
				p.referenced = false
			}
			t.maxLongTermFrameIdx = -1
			// 当前图像按 poc 0 重新锚定
			t.prevPocMsb, t.prevPocLsb = 0, 0
			t.prevFrameNumOffset = 0
			t.prevRefFrameNum = 0
			cur.poc = 0
			cur.frameNum = 0
		case 6:
			if old := t.findLongTerm(mmco.Operand1); old != nil {
				old.referenced = false
			}
			cur.longTerm = true
			cur.longTermFrameIdx = mmco.Operand1
		}
	}
	return nil
}

// bump 把超出重排深度的最小 POC 图像按序弹出
func (t *Tracker) bump() (outputs []Output) {
	depth := int(t.sps.MaxNumRefFrames)
	if depth < 1 {
		depth = 1
	}

	for t.pendingCount() > depth {
		outputs = append(outputs, t.outputLowest())
	}
	return outputs
}

// Flush 流结束：弹出全部未输出图像
func (t *Tracker) Flush() (outputs []Output) {
	outputs = t.drainOutputs()
	t.compact()
	return outputs
}

// Reset 丢弃全部状态（保留已登记的参数集），用于流级重置
func (t *Tracker) Reset() {
	t.dpb = nil
	t.cur = nil
	t.curHdr = nil
	t.maxLongTermFrameIdx = -1
	t.prevPocMsb, t.prevPocLsb = 0, 0
	t.prevFrameNumOffset = 0
	t.prevRefFrameNum = 0
}

// LiveIndices 仍被 DPB 占用（被参考或等待输出）的缓冲序号
func (t *Tracker) LiveIndices() []int {
	idx := make([]int, 0, len(t.dpb)+1)
	for _, p := range t.dpb {
		idx = append(idx, p.frameIndex)
	}
	if t.cur != nil {
		idx = append(idx, t.cur.frameIndex)
	}
	return idx
}

// ReferenceLists 当前片的初始参考列表（缓冲序号），含重排（8.2.4）。
// 引用了已退休图像的重排项是码流错误。
func (t *Tracker) ReferenceLists(sh *SliceHeader) (l0, l1 []int, err error) {
	if t.cur == nil {
		return nil, nil, fmt.Errorf("h264: no picture in progress")
	}
	if sh.SliceType == SliceTypeI || sh.SliceType == SliceTypeSI {
		return nil, nil, nil
	}

	t.updatePicNums(t.cur.frameNum)

	var p0 []*picture
	if sh.SliceType == SliceTypeB {
		p0 = t.orderForB(t.cur.poc, false)
	} else {
		p0 = t.orderForP()
	}
	if l0, err = t.modifyList(p0, sh.RefPicListModL0, int32(t.cur.frameNum)); err != nil {
		return nil, nil, err
	}

	if sh.SliceType == SliceTypeB {
		p1 := t.orderForB(t.cur.poc, true)
		if l1, err = t.modifyList(p1, sh.RefPicListModL1, int32(t.cur.frameNum)); err != nil {
			return nil, nil, err
		}
	}
	return l0, l1, nil
}

// ==== 内部辅助

func (t *Tracker) shortTerm() (ps []*picture) {
	for _, p := range t.dpb {
		if p.referenced && !p.longTerm {
			ps = append(ps, p)
		}
	}
	return
}

func (t *Tracker) longTermPics() (ps []*picture) {
	for _, p := range t.dpb {
		if p.referenced && p.longTerm {
			ps = append(ps, p)
		}
	}
	return
}

func (t *Tracker) updatePicNums(curFrameNum uint32) {
	maxFrameNum := int32(1) << t.sps.Log2MaxFrameNum
	for _, p := range t.shortTerm() {
		if p.frameNum > curFrameNum {
			p.frameNumWrap = int32(p.frameNum) - maxFrameNum
		} else {
			p.frameNumWrap = int32(p.frameNum)
		}
		p.picNum = p.frameNumWrap
	}
}

func (t *Tracker) findShortTerm(picNum int32) *picture {
	for _, p := range t.shortTerm() {
		if p.picNum == picNum {
			return p
		}
	}
	return nil
}

func (t *Tracker) findLongTerm(longTermPicNum uint32) *picture {
	for _, p := range t.longTermPics() {
		if p.longTermFrameIdx == longTermPicNum {
			return p
		}
	}
	return nil
}

// orderForP P 片初始序：短期按 picNum 降序，长期按 idx 升序
func (t *Tracker) orderForP() []*picture {
	short := t.shortTerm()
	sortPics(short, func(a, b *picture) bool { return a.picNum > b.picNum })
	long := t.longTermPics()
	sortPics(long, func(a, b *picture) bool { return a.longTermFrameIdx < b.longTermFrameIdx })
	return append(short, long...)
}

// orderForB B 片初始序：一侧 POC 靠近降/升，另一侧相反，长期殿后
func (t *Tracker) orderForB(curPoc int32, l1 bool) []*picture {
	var before, after []*picture
	for _, p := range t.shortTerm() {
		if p.poc <= curPoc {
			before = append(before, p)
		} else {
			after = append(after, p)
		}
	}
	sortPics(before, func(a, b *picture) bool { return a.poc > b.poc })
	sortPics(after, func(a, b *picture) bool { return a.poc < b.poc })

	var list []*picture
	if l1 {
		list = append(after, before...)
	} else {
		list = append(before, after...)
	}
	long := t.longTermPics()
	sortPics(long, func(a, b *picture) bool { return a.longTermFrameIdx < b.longTermFrameIdx })
	return append(list, long...)
}

// modifyList 应用 ref_pic_list_modification（8.2.4.3）
func (t *Tracker) modifyList(initial []*picture, mods []RefPicListMod, curPicNum int32) ([]int, error) {
	list := make([]*picture, len(initial))
	copy(list, initial)

	maxFrameNum := int32(1) << t.sps.Log2MaxFrameNum
	picNumPred := curPicNum

	for idx, mod := range mods {
		var p *picture
		switch mod.Idc {
		case 0, 1:
			diff := int32(mod.Value) + 1
			if mod.Idc == 0 {
				picNumPred -= diff
			} else {
				picNumPred += diff
			}
			// 维持在 [0, maxFrameNum) 的环上
			if picNumPred < 0 {
				picNumPred += maxFrameNum
			}
			if picNumPred >= maxFrameNum {
				picNumPred -= maxFrameNum
			}
			picNum := picNumPred
			if picNum > curPicNum {
				picNum -= maxFrameNum
			}
			if p = t.findShortTerm(picNum); p == nil {
				return nil, fmt.Errorf("h264: list modification refers to missing pic_num %d", picNum)
			}
		case 2:
			if p = t.findLongTerm(mod.Value); p == nil {
				return nil, fmt.Errorf("h264: list modification refers to missing long_term_pic_num %d", mod.Value)
			}
		}

		// 插到 idx 处，去掉后面的重复
		list = append(list, nil)
		copy(list[idx+1:], list[idx:])
		list[idx] = p
		for i := idx + 1; i < len(list); i++ {
			if list[i] == p {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
	}

	refs := make([]int, len(list))
	for i, p := range list {
		refs[i] = p.frameIndex
	}
	return refs, nil
}

func (t *Tracker) pendingCount() (n int) {
	for _, p := range t.dpb {
		if p.needsOutput {
			n++
		}
	}
	return
}

func (t *Tracker) outputLowest() Output {
	var lowest *picture
	for _, p := range t.dpb {
		if !p.needsOutput {
			continue
		}
		if lowest == nil || p.poc < lowest.poc {
			lowest = p
		}
	}
	lowest.needsOutput = false
	return Output{FrameIndex: lowest.frameIndex, Poc: lowest.poc}
}

func (t *Tracker) drainOutputs() (outputs []Output) {
	for t.pendingCount() > 0 {
		outputs = append(outputs, t.outputLowest())
	}
	return
}

// compact 移除既不被参考也不等待输出的图像
func (t *Tracker) compact() {
	kept := t.dpb[:0]
	for _, p := range t.dpb {
		if p.referenced || p.needsOutput {
			kept = append(kept, p)
		}
	}
	t.dpb = kept
}

func sortPics(ps []*picture, less func(a, b *picture) bool) {
	// 插入排序，DPB 上限 16
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && less(ps[j], ps[j-1]); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}
