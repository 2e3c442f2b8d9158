// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"time"
)

// 解码引擎配置的默认值
const (
	defaultBufferSize  = 1024 * 1024 // 每路流的输入环缓冲
	defaultWatchdogMs  = 2000        // 硬件看门狗超时（毫秒）
	defaultMaxStreams  = 64          // 同时注册的最大流数
	defaultIngestRate  = 0           // 每连接接入速率限制(Bytes/s)，0 不限
	defaultFirmwareDir = "firmware"
	defaultVdec1Dev    = "/dev/uio0"
	defaultHevcDev     = "/dev/uio1"
)

// EngineConfig 解码引擎配置
type EngineConfig struct {
	BufferSize  int    `json:"buffer_size"`  // 流输入环缓冲大小，必须是 2 的幂
	WatchdogMs  int    `json:"watchdog_ms"`  // 硬件解码看门狗超时
	MaxStreams  int    `json:"max_streams"`  // 最大同时接入的流数
	IngestRate  int    `json:"ingest_rate"`  // 单连接接入限速 Bytes/s
	FirmwareDir string `json:"firmware_dir"` // 固件目录
	Vdec1Dev    string `json:"vdec1_dev"`    // vdec1 核的 UIO 设备
	HevcDev     string `json:"hevc_dev"`     // hevc 核的 UIO 设备，空串禁用
}

func (c *EngineConfig) initFlags() {
	flag.IntVar(&c.BufferSize, "buffersize", defaultBufferSize,
		"Set the input ring buffer size per stream (power of two)")
	flag.IntVar(&c.WatchdogMs, "watchdog", defaultWatchdogMs,
		"Set hardware decode watchdog timeout in milliseconds")
	flag.IntVar(&c.MaxStreams, "maxstreams", defaultMaxStreams,
		"Set the maximum count of registered streams")
	flag.IntVar(&c.IngestRate, "ingestrate", defaultIngestRate,
		"Set per-connection ingest rate limit in bytes per second (0 = unlimited)")
	flag.StringVar(&c.FirmwareDir, "firmwaredir", defaultFirmwareDir,
		"Set the decoder firmware directory")
	flag.StringVar(&c.Vdec1Dev, "vdec1dev", defaultVdec1Dev,
		"Set the uio device of the vdec1 core")
	flag.StringVar(&c.HevcDev, "hevcdev", defaultHevcDev,
		"Set the uio device of the hevc core (empty disables it)")
}

// normalize 修正非法的配置值
func (c *EngineConfig) normalize() {
	if c.BufferSize <= 0 || c.BufferSize&(c.BufferSize-1) != 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.WatchdogMs <= 0 {
		c.WatchdogMs = defaultWatchdogMs
	}
	if c.MaxStreams <= 0 {
		c.MaxStreams = defaultMaxStreams
	}
	if c.IngestRate < 0 {
		c.IngestRate = defaultIngestRate
	}
	if c.FirmwareDir == "" {
		c.FirmwareDir = defaultFirmwareDir
	}
	if c.Vdec1Dev == "" {
		c.Vdec1Dev = defaultVdec1Dev
	}
}

// EngineBufferSize 流输入环缓冲大小
func EngineBufferSize() int {
	if globalC == nil {
		return defaultBufferSize
	}
	return globalC.Engine.BufferSize
}

// EngineWatchdogTimeout 硬件看门狗超时
func EngineWatchdogTimeout() time.Duration {
	if globalC == nil {
		return time.Duration(defaultWatchdogMs) * time.Millisecond
	}
	return time.Duration(globalC.Engine.WatchdogMs) * time.Millisecond
}

// EngineMaxStreams 最大同时接入的流数
func EngineMaxStreams() int {
	if globalC == nil {
		return defaultMaxStreams
	}
	return globalC.Engine.MaxStreams
}

// IngestRateLimit 单连接接入限速
func IngestRateLimit() int {
	if globalC == nil {
		return defaultIngestRate
	}
	return globalC.Engine.IngestRate
}

// FirmwareDir 固件目录
func FirmwareDir() string {
	if globalC == nil {
		return defaultFirmwareDir
	}
	return globalC.Engine.FirmwareDir
}

// Vdec1Dev vdec1 核的 UIO 设备
func Vdec1Dev() string {
	if globalC == nil {
		return defaultVdec1Dev
	}
	return globalC.Engine.Vdec1Dev
}

// HevcDev hevc 核的 UIO 设备，空串表示禁用
func HevcDev() string {
	if globalC == nil {
		return defaultHevcDev
	}
	return globalC.Engine.HevcDev
}
