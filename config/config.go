// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	cfg "github.com/cnotch/loader"
	"github.com/cnotch/vdechub/provider/auth"
	"github.com/cnotch/xlog"
)

// 服务名
const (
	Vendor  = "CAOHONGJU"
	Name    = "vdechub"
	Version = "V1.0.0"
)

// config 服务配置
type config struct {
	ListenAddr string          `json:"listen"`          // vdp 接入服务侦听地址和端口
	HTTPAddr   string          `json:"http"`            // http 服务侦听地址和端口
	Auth       bool            `json:"auth"`            // 启用安全验证
	Profile    bool            `json:"profile"`         // 是否启动Profile
	TLS        *TLSConfig      `json:"tls,omitempty"`   // 安全端口交互
	Users      *ProviderConfig `json:"users,omitempty"` // 用户
	Engine     EngineConfig    `json:"engine"`          // 解码引擎配置
	Log        LogConfig       `json:"log"`             // 日志配置
}

func (c *config) initFlags() {
	// 服务的端口
	flag.StringVar(&c.ListenAddr, "listen", ":8554", "Set vdp server listen address")
	flag.StringVar(&c.HTTPAddr, "http", ":8088", "Set http server listen address")
	flag.BoolVar(&c.Auth, "auth", false,
		"Determines if requires permission verification to ingest streams")
	flag.BoolVar(&c.Profile, "pprof", false,
		"Determines if profile enabled")

	c.Engine.initFlags()
	// 初始化日志配置
	c.Log.initFlags()
}

var (
	globalC       *config
	consoleAppDir string
)

// InitConfig 初始化 Config
func InitConfig() {
	exe, err := os.Executable()
	if err != nil {
		xlog.Panic(err.Error())
	}

	configPath := filepath.Join(filepath.Dir(exe), Name+".conf")
	consoleAppDir = filepath.Join(filepath.Dir(exe), "console")

	globalC = new(config)
	globalC.initFlags()

	// 创建或加载配置文件
	if err := cfg.Load(globalC,
		&cfg.JSONLoader{Path: configPath, CreatedIfNonExsit: true},
		&cfg.EnvLoader{Prefix: strings.ToUpper(Name)},
		&cfg.FlagLoader{}); err != nil {
		// 异常，直接退出
		xlog.Panic(err.Error())
	}

	globalC.Engine.normalize()

	// 初始化日志
	globalC.Log.initLogger()
}

// Addr Listen addr
func Addr() string {
	if globalC == nil {
		return ":8554"
	}
	return globalC.ListenAddr
}

// HTTPAddr http listen addr
func HTTPAddr() string {
	if globalC == nil {
		return ":8088"
	}
	return globalC.HTTPAddr
}

// Auth 是否启用验证
func Auth() bool {
	if globalC == nil {
		return false
	}
	return globalC.Auth
}

// Profile 是否启动 Http Profile
func Profile() bool {
	if globalC == nil {
		return false
	}
	return globalC.Profile
}

// GetTLSConfig 获取TLSConfig
func GetTLSConfig() *TLSConfig {
	if globalC == nil {
		return nil
	}
	return globalC.TLS
}

// ConsoleAppDir 管理员控制台应用的目录
func ConsoleAppDir() (string, bool) {
	if consoleAppDir == "" {
		return "", false
	}
	finfo, err := os.Stat(consoleAppDir)
	if err != nil || !finfo.IsDir() {
		return "", false
	}
	return consoleAppDir, true
}

// NetTimeout 返回网络超时设置
func NetTimeout() time.Duration {
	return time.Second * 45
}

// NetHeartbeatInterval 返回网络心跳间隔
func NetHeartbeatInterval() time.Duration {
	return time.Second * 30
}

// NetBufferSize 网络通讯时的BufferSize
func NetBufferSize() int {
	return 128 * 1024
}

// IngestAuthMode 接入认证模式
func IngestAuthMode() auth.Mode {
	if globalC == nil || !globalC.Auth {
		return auth.NoneAuth
	}
	return auth.BasicAuth
}

// LoadUsersProvider 加载用户提供者
func LoadUsersProvider(providers ...Provider) Provider {
	if globalC == nil {
		return LoadProvider(nil, providers...)
	}
	return LoadProvider(globalC.Users, providers...)
}
