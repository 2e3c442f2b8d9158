// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package uio

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/cnotch/vdechub/hw"
)

// ErrPoolExhausted DMA 碰出区没有满足请求的连续空闲段
var ErrPoolExhausted = errors.New("uio: dma pool exhausted")

// span 碰出区内一段空闲范围，按 off 升序排列
type span struct {
	off  int
	size int
}

// carveout 连续物理区上的首次适应分配器。
// 只做段簿记，不持有内存；并发控制由调用方负责。
type carveout struct {
	base uint64
	size int
	free []span
}

func newCarveout(base uint64, size int) *carveout {
	return &carveout{
		base: base,
		size: size,
		free: []span{{0, size}},
	}
}

func alignUp(v uint64, alignment int) uint64 {
	a := uint64(alignment)
	return (v + a - 1) &^ (a - 1)
}

// alloc 返回满足物理对齐的段偏移
func (c *carveout) alloc(size, alignment int) (int, bool) {
	if alignment < 1 {
		alignment = 1
	}

	for i, s := range c.free {
		off := int(alignUp(c.base+uint64(s.off), alignment) - c.base)
		end := off + size
		if end > s.off+s.size {
			continue
		}

		// 站住 [off, end)，余下的头尾段回到空闲表
		head := span{s.off, off - s.off}
		tail := span{end, s.off + s.size - end}

		repl := append([]span{}, c.free[:i]...)
		if head.size > 0 {
			repl = append(repl, head)
		}
		if tail.size > 0 {
			repl = append(repl, tail)
		}
		c.free = append(repl, c.free[i+1:]...)
		return off, true
	}
	return 0, false
}

// release 归还 [off, off+size)，与相邻空闲段合并
func (c *carveout) release(off, size int) {
	i := 0
	for ; i < len(c.free); i++ {
		if c.free[i].off > off {
			break
		}
	}

	c.free = append(c.free, span{})
	copy(c.free[i+1:], c.free[i:])
	c.free[i] = span{off, size}

	// 向后合并再向前合并
	if i+1 < len(c.free) && c.free[i].off+c.free[i].size == c.free[i+1].off {
		c.free[i].size += c.free[i+1].size
		c.free = append(c.free[:i+1], c.free[i+2:]...)
	}
	if i > 0 && c.free[i-1].off+c.free[i-1].size == c.free[i].off {
		c.free[i-1].size += c.free[i].size
		c.free = append(c.free[:i], c.free[i+1:]...)
	}
}

// freeBytes 当前空闲字节总数
func (c *carveout) freeBytes() int {
	n := 0
	for _, s := range c.free {
		n += s.size
	}
	return n
}

// poolAllocator hw.Allocator 的 UIO 实现，
// 在 vdec1 设备的 map1 碰出区上分配物理连续缓冲
type poolAllocator struct {
	mu   sync.Mutex
	pool *carveout
	mem  []byte // 碰出区整体映射，O_SYNC 非缓存
}

// openPool 从 sysfs 读取碰出区的物理地址和尺寸并映射
func openPool(dev *uioDevice) (*poolAllocator, error) {
	base, err := readSysfsUint(sysfsPath(dev.f.Name(), "maps/map1/addr"))
	if err != nil {
		return nil, err
	}
	size, err := readSysfsUint(sysfsPath(dev.f.Name(), "maps/map1/size"))
	if err != nil {
		return nil, err
	}

	// mmap 偏移按页序号选择 map 区
	mem, err := syscall.Mmap(int(dev.f.Fd()), int64(os.Getpagesize()), int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	return &poolAllocator{
		pool: newCarveout(base, int(size)),
		mem:  mem,
	}, nil
}

func (a *poolAllocator) close() {
	if a != nil && a.mem != nil {
		syscall.Munmap(a.mem)
		a.mem = nil
	}
}

// Allocate 实现 hw.Allocator
func (a *poolAllocator) Allocate(tag string, size int, alignment int, opts hw.AllocOptions) (hw.PhysBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, ok := a.pool.alloc(size, alignment)
	if !ok {
		return nil, fmt.Errorf("%w (tag=%s size=%d free=%d)",
			ErrPoolExhausted, tag, size, a.pool.freeBytes())
	}

	buf := &poolBuffer{owner: a, off: off, size: size}
	// Secure 段留在碰出区中但不给 CPU 映射，保护属性由平台 shim 施加
	if opts.Mapping && !opts.Secure {
		buf.data = a.mem[off : off+size : off+size]
	}
	return buf, nil
}

// poolBuffer 碰出区内的一段物理连续缓冲
type poolBuffer struct {
	owner *poolAllocator
	off   int
	size  int
	data  []byte
}

func (b *poolBuffer) PhysBase() uint64 {
	return b.owner.pool.base + uint64(b.off)
}

func (b *poolBuffer) Size() int {
	return b.size
}

func (b *poolBuffer) Bytes() []byte {
	return b.data
}

// Flush 映射为非缓存，CPU 写直达物理内存
func (b *poolBuffer) Flush(offset, length int) {}

// Invalidate 同上，读侧无缓存行需要丢弃
func (b *poolBuffer) Invalidate(offset, length int) {}

func (b *poolBuffer) Free() {
	if b.owner == nil {
		return
	}
	b.owner.mu.Lock()
	b.owner.pool.release(b.off, b.size)
	b.owner.mu.Unlock()
	b.owner = nil
	b.data = nil
}

func readSysfsUint(path string) (uint64, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 0, 64)
}
