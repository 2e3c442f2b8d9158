// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/cnotch/scheduler"
	"github.com/cnotch/vdechub/config"
	"github.com/cnotch/vdechub/hw"
	"github.com/cnotch/vdechub/hw/uio"
	"github.com/cnotch/vdechub/media"
	"github.com/cnotch/vdechub/provider/auth"
	"github.com/cnotch/vdechub/service"
	"github.com/cnotch/xlog"
)

func main() {
	// 初始化配置
	config.InitConfig()
	// 初始化全局计划任务
	scheduler.SetPanicHandler(func(job *scheduler.ManagedJob, r interface{}) {
		xlog.Errorf("scheduler task panic. tag: %v, recover: %v", job.Tag, r)
	})

	// 用户提供者
	userProvider := config.LoadUsersProvider(auth.JSON)
	auth.Reset(userProvider.(auth.UserProvider))

	// 打开解码硬件并初始化全局引擎
	platform, err := uio.Open(config.Vdec1Dev(), config.HevcDev())
	if err != nil {
		xlog.L().Panic(err.Error())
	}
	defer platform.Close()

	media.InitDecoder(platform.Backend(), platform.Allocator(),
		&hw.DirFirmwareSource{Dir: config.FirmwareDir()})

	// Start new service
	svc, err := service.NewService(context.Background(), xlog.L())
	if err != nil {
		xlog.L().Panic(err.Error())
	}

	// Listen and serve
	svc.Listen()
}
