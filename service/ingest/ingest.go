// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest 实现 VDP 接入协议：客户端在一条 TCP 连接上
// 声明流、交错推送码流数据帧，并可取回解码输出。
package ingest

import (
	"net"

	"github.com/cnotch/xlog"
	"github.com/kelindar/tcp"
)

// Server VDP 接入服务器
type Server struct {
	logger *xlog.Logger
}

// CreateAcceptHandler 创建连接接入处理器
func CreateAcceptHandler() tcp.OnAccept {
	svr := &Server{
		logger: xlog.L(),
	}
	return svr.onAcceptConn
}

// onAcceptConn 当新连接接入时触发
func (svr *Server) onAcceptConn(c net.Conn) {
	s := newSession(svr, c)
	go s.process()
}
