// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package service

import (
	"bufio"
	"net/http"
	"path"
	"runtime/debug"
	"time"

	"github.com/cnotch/apirouter"
	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/config"
	"github.com/cnotch/vdechub/media"
	"github.com/cnotch/vdechub/network/websocket"
	"github.com/cnotch/vdechub/provider/auth"
	"github.com/cnotch/vdechub/service/ingest"
	"github.com/cnotch/vdechub/stats"
	"github.com/cnotch/vdechub/utils/scan"
	"github.com/cnotch/xlog"
)

// 初始化流式访问
func (s *Service) initHTTPStreams(mux *http.ServeMux) {
	mux.Handle("/ws/", apirouter.WrapHandler(http.HandlerFunc(s.onWebSocketRequest), apirouter.PreInterceptor(s.streamInterceptor)))
}

// websocket 请求处理
func (s *Service) onWebSocketRequest(w http.ResponseWriter, r *http.Request) {
	username := r.Header.Get(usernameHeaderKey)
	streamPath := extractStreamPath(r.URL.Path)

	if ws, ok := websocket.TryUpgrade(w, r, streamPath, username); ok {
		if ws.Subprotocol() == "vdp" { // vdp 直连
			// vdp接入
			s.ingest.OnAccept(ws)
			return
		}

		go consumeByWebsocket(s.logger, streamPath, r.RemoteAddr, ws)
	}
}

func (s *Service) streamInterceptor(w http.ResponseWriter, r *http.Request) bool {
	if path.Base(r.URL.Path) == "crossdomain.xml" {
		w.Header().Set("Content-Type", "application/xml")
		w.Write(crossdomainxml)
		return false
	}

	if !config.Auth() {
		// 不启用媒体流访问验证
		return true
	}

	if s.authInterceptor(w, r) {
		return permissionInterceptor(w, r)
	}

	return false
}

// 验证用户是否有权限播放指定的流
func permissionInterceptor(w http.ResponseWriter, r *http.Request) bool {
	userName := r.Header.Get(usernameHeaderKey)
	u := auth.Get(userName)

	streamPath := extractStreamPath(r.URL.Path)

	if u == nil || !u.ValidatePermission(streamPath, auth.PullRight) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return false
	}

	return true
}

// 提取请求路径中的流path
func extractStreamPath(requestPath string) (streamPath string) {
	_, substr, _ := scan.NewScanner('/', nil).Scan(requestPath[1:])
	streamPath = requestPath[1+len(substr):]
	return
}

type wsConsumer struct {
	logger *xlog.Logger
	conn   websocket.Conn
	w      *bufio.Writer
	closed bool
}

func (c *wsConsumer) Consume(frame *av.Frame) {
	if c.closed {
		return
	}

	err := ingest.WriteFrameData(c.w, frame)
	if err == nil {
		err = c.w.Flush()
	}

	if err != nil {
		c.logger.Errorf("ws-frame: send frame failed; %v", err)
		c.Close()
		return
	}
}

func (c *wsConsumer) OnEos() {
	if c.closed {
		return
	}

	if err := ingest.WriteEosMarker(c.w); err == nil {
		c.w.Flush()
	}
	c.Close()
}

func (c *wsConsumer) OnError(err error) {
	if c.closed {
		return
	}

	c.logger.Errorf("ws-frame: stream error; %v", err)
	c.Close()
}

func (c *wsConsumer) Close() (err error) {
	if c.closed {
		return
	}

	c.closed = true
	c.conn.Close()
	return nil
}

// consumeByWebsocket 处理 websocket 方式取回解码输出
func consumeByWebsocket(logger *xlog.Logger, path string, addr string, conn websocket.Conn) {
	logger = logger.With(xlog.Fields(
		xlog.F("path", path),
		xlog.F("addr", addr)))

	stream := media.Get(path)
	if stream == nil {
		conn.Close()
		logger.Errorf("ws-frame: no stream found")
		return
	}

	var cid media.CID

	defer func() {
		if r := recover(); r != nil {
			xlog.Errorf("ws-frame: panic; %v \n %s", r, debug.Stack())
		}
		stream.StopConsume(cid)
		conn.Close()
		stats.WsConns.Release()
		logger.Info("stop websocket-frame consume")
	}()

	logger.Info("start websocket-frame consume")
	stats.WsConns.Add()

	c := &wsConsumer{
		logger: logger,
		conn:   conn,
		w:      bufio.NewWriterSize(conn, 16*1024),
	}

	cid = stream.StartConsume(c, media.WSConsumer, "net=websocket-frame,"+addr)

	for !c.closed {
		deadLine := time.Time{}

		if err := conn.SetReadDeadline(deadLine); err != nil {
			break
		}
		var temp [1]byte
		if _, err := conn.Read(temp[:]); err != nil {
			if !c.closed {
				logger.Errorf("websocket error; %v.", err)
			}
			break
		}
	}
}
