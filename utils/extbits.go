// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package utils

// ExtendBits 把硬件回报的 wrapped（低 bits 位有效）扩展为完整的 64 位值。
// nearby 是已知的邻近 64 位值；环形缓冲在两次观测之间的推进不会超过半环，
// 因此在 2^bits 环上取距 nearby 较近的方向即可消除回绕歧义。
// 要求 bits == 64 或 wrapped < 2^bits。
func ExtendBits(nearby, wrapped uint64, bits uint) uint64 {
	shift := 64 - bits

	// 左移对齐到 64 位最高端，借助无符号回绕直接比较两个方向的距离
	a := nearby << shift
	b := wrapped << shift

	up := b - a
	down := a - b

	// 距离相等时取向上的解释
	if up <= down {
		return nearby + up>>shift
	}
	return nearby - down>>shift
}
