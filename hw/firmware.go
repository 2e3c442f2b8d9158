// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
)

// FirmwareSize 固件 DMA 的固定载入尺寸
const FirmwareSize = 16 * 4096

// FirmwareSource 固件来源，每种核类型在流初始化时加载一次
type FirmwareSource interface {
	FirmwareBlob(name string) ([]byte, error)
}

// DirFirmwareSource 从目录按名字读取固件文件
type DirFirmwareSource struct {
	Dir string
}

// FirmwareBlob 读取名为 name 的固件
func (s *DirFirmwareSource) FirmwareBlob(name string) ([]byte, error) {
	data, err := ioutil.ReadFile(filepath.Join(s.Dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("firmware `%s` is not available; %w", name, err)
	}
	if len(data) > FirmwareSize {
		data = data[:FirmwareSize]
	}
	return data, nil
}

// stageFirmware 把固件放入 DMA 可达的中转缓冲并写回缓存
func stageFirmware(allocator Allocator, data []byte) (PhysBuffer, error) {
	buf, err := allocator.Allocate("firmware", FirmwareSize, 4096,
		AllocOptions{Writable: true, Mapping: true})
	if err != nil {
		return nil, err
	}

	copy(buf.Bytes(), data)
	buf.Flush(0, len(data))
	return buf, nil
}
