// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"bufio"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/av/format/rtp"
	"github.com/cnotch/vdechub/config"
	"github.com/cnotch/vdechub/media"
	"github.com/cnotch/vdechub/network"
	"github.com/cnotch/vdechub/network/socket/buffered"
	"github.com/cnotch/vdechub/provider/auth"
	"github.com/cnotch/vdechub/provider/security"
	"github.com/cnotch/vdechub/stats"
	"github.com/cnotch/xlog"
	"github.com/emitter-io/address"
)

const (
	statusInit = iota
	statusAnnounced
	statusPlaying
)

// Session 一条接入连接的会话。
// 同一连接承载文本命令和交错的二进制数据帧：
// 输入方向是待解码的码流段，输出方向是解码完成的图像。
type Session struct {
	svr      *Server
	logger   *xlog.Logger
	closed   bool
	lsession string // 本地会话标识
	timeout  time.Duration
	conn     *buffered.Conn
	lockW    sync.Mutex

	authMode auth.Mode
	user     *auth.User

	// ANNOUNCE 后设置
	path   string
	rawSdp string
	stream *media.Stream
	depack rtp.Depacketizer // RTP 输入模式下按需创建

	// PLAY 后设置
	status int
	cid    media.CID
}

func newSession(svr *Server, conn net.Conn) *Session {
	session := &Session{
		svr:      svr,
		lsession: security.NewID().Base64(),
		timeout:  config.NetTimeout(),
		conn: buffered.NewConn(conn,
			buffered.FlushRate(config.IngestRateLimit()),
			buffered.BufferSize(config.NetBufferSize())),
		authMode: config.IngestAuthMode(),
		status:   statusInit,
	}

	ipaddr, _ := address.Parse(conn.RemoteAddr().String(), 80)
	// 本机接入不验证，方便本地工具直灌
	if network.IsLocalhostIP(ipaddr.IP) {
		session.authMode = auth.NoneAuth
	}

	session.logger = svr.logger.With(xlog.Fields(
		xlog.F("session", session.lsession)))
	return session
}

// Addr Session地址
func (s *Session) Addr() string {
	return s.conn.RemoteAddr().String()
}

// Close 关闭会话
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.conn.Close()
	return nil
}

func (s *Session) process() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("session panic; %v \n %s", r, debug.Stack())
		}

		stats.IngestConns.Release()
		s.Close()
		if s.stream != nil {
			media.Unregist(s.stream)
			s.stream = nil
		}
		s.status = statusInit
		s.logger.Infof("close ingest session")
	}()

	s.logger.Infof("open ingest session")
	stats.IngestConns.Add()
	reader := s.conn.Reader()

	for !s.closed {
		deadLine := time.Time{}
		if s.timeout > 0 {
			deadLine = time.Now().Add(s.timeout)
		}
		if err := s.conn.SetReadDeadline(deadLine); err != nil {
			s.logger.Error(err.Error())
			break
		}

		if err := s.receive(reader); err != nil {
			if err == io.EOF { // 如果客户端断开提醒
				s.logger.Warn("The client actively disconnects")
			} else if !s.closed { // 如果主动关闭，不提示
				s.logger.Error(err.Error())
			}
			break
		}
	}
}

// receive 统一消息接收：'$' 前缀是数据帧，其余是文本命令
func (s *Session) receive(r *bufio.Reader) error {
	sl, err := r.Peek(1)
	if err != nil {
		return err
	}

	if sl[0] == dataPrefix {
		in, err := ReadInputData(r)
		if err != nil {
			return err
		}
		return s.onInputData(in)
	}

	req, err := ReadRequest(r)
	if err != nil {
		return err
	}

	if s.logger.LevelEnabled(xlog.DebugLevel) {
		s.logger.Debugf("<<<=== %s", req.Cmd)
	}
	return s.onRequest(req)
}

func (s *Session) onInputData(in *InputData) error {
	if s.stream == nil {
		return errors.New("ingest: input data before ANNOUNCE")
	}
	if in.Eos {
		return s.stream.WriteEos()
	}

	if in.Rtp {
		packet, err := rtp.ParsePacket(in.Data)
		if err != nil {
			return err
		}
		if s.depack == nil {
			s.depack = rtp.NewH264Depacketizer(rtpInputWriter{s: s})
		}
		return s.depack.Depacketize(packet)
	}

	return s.stream.WriteInput(in.Data, in.Pts, in.HasPts)
}

var naluStartCode = []byte{0, 0, 0, 1}

// rtpInputWriter 把解包出的 NAL 单元转为 AnnexB 码流送入流。
// pts 直接取 90kHz 的 RTP 时间戳。
type rtpInputWriter struct {
	s *Session
}

func (w rtpInputWriter) WriteNalu(nalu []byte, rtpTime uint32) error {
	b := make([]byte, 0, len(naluStartCode)+len(nalu))
	b = append(b, naluStartCode...)
	b = append(b, nalu...)
	return w.s.stream.WriteInput(b, int64(rtpTime), true)
}

func (s *Session) onRequest(req *Request) error {
	resp := s.newResponse(StatusOK, req)

	switch req.Cmd {
	case CmdGetInfo:
		return s.response(resp)

	case CmdTeardown:
		err := s.response(resp)
		s.Close()
		return err

	case CmdAnnounce:
		s.onAnnounce(resp, req)
	case CmdPlay:
		s.onPlay(resp, req)
	case CmdPause:
		s.onPause(resp, req)
	default:
		resp.StatusCode = StatusNotImplemented
	}

	return s.response(resp)
}

func (s *Session) onAnnounce(resp *Response, req *Request) {
	if s.status != statusInit {
		resp.StatusCode = StatusMethodNotValidInState
		return
	}

	if req.Header[FieldContentType] != "application/sdp" {
		resp.StatusCode = StatusBadRequest
		return
	}

	path := req.Header[FieldPath]
	if path == "" {
		resp.StatusCode = StatusBadRequest
		return
	}

	user, err := s.checkAuth(req)
	if err != nil {
		resp.StatusCode = StatusUnauthorized
		resp.Status = err.Error()
		return
	}
	s.user = user
	s.path = path

	if !s.checkPermission(auth.PushRight) {
		resp.StatusCode = StatusForbidden
		return
	}

	stream, err := media.NewStream(path, req.Body,
		media.Attr("addr", s.Addr()),
		media.Attr("sdp", req.Body))
	if err != nil {
		s.logger.Errorf("create stream failed; %v.", err)
		resp.StatusCode = StatusUnsupportedMediaFormat
		return
	}

	s.rawSdp = req.Body
	s.stream = stream
	s.status = statusAnnounced
	media.Regist(stream)

	resp.Header[FieldSession] = s.lsession
}

func (s *Session) onPlay(resp *Response, req *Request) {
	if s.status == statusPlaying {
		return
	}
	if s.status != statusAnnounced {
		resp.StatusCode = StatusMethodNotValidInState
		return
	}

	if !s.checkPermission(auth.PullRight) {
		resp.StatusCode = StatusForbidden
		return
	}

	s.cid = s.stream.StartConsume(&frameConsumer{s: s}, media.FrameConsumer, "vdp "+s.Addr())
	s.status = statusPlaying
}

func (s *Session) onPause(resp *Response, req *Request) {
	if s.status != statusPlaying {
		resp.StatusCode = StatusMethodNotValidInState
		return
	}

	s.stream.StopConsume(s.cid)
	s.status = statusAnnounced
}

func (s *Session) checkPermission(right auth.AccessRight) bool {
	if s.authMode == auth.NoneAuth {
		return true
	}

	if s.user == nil {
		return false
	}

	return s.user.ValidatePermission(s.path, right)
}

func (s *Session) checkAuth(req *Request) (user *auth.User, err error) {
	switch s.authMode {
	case auth.BasicAuth:
		username, password, has := req.BasicAuth()
		if !has {
			return nil, errors.New("require legal Authorization field")
		}
		user := auth.Get(username)
		if user == nil {
			return nil, errors.New("user not exist")
		}
		if err := user.ValidatePassword(password); err != nil {
			return nil, err
		}
		return user, nil
	default: // 无需验证
		return nil, nil
	}
}

func (s *Session) newResponse(code int, req *Request) *Response {
	resp := &Response{
		StatusCode: code,
		Header:     make(map[string]string, 4),
	}
	if seq := req.Header[FieldSeq]; seq != "" {
		resp.Header[FieldSeq] = seq
	}
	return resp
}

func (s *Session) response(resp *Response) error {
	s.lockW.Lock()
	defer s.lockW.Unlock()

	if err := resp.Write(s.conn); err != nil {
		return err
	}
	_, err := s.conn.Flush()
	return err
}

// frameConsumer 把解码输出帧写回接入连接
type frameConsumer struct {
	s *Session
}

func (c *frameConsumer) Consume(frame *av.Frame) {
	c.s.lockW.Lock()
	defer c.s.lockW.Unlock()

	if err := WriteFrameData(c.s.conn, frame); err != nil {
		c.s.logger.Errorf("write frame failed; %v.", err)
		c.s.Close()
		return
	}
	c.s.conn.Flush()
}

func (c *frameConsumer) OnEos() {
	c.s.lockW.Lock()
	defer c.s.lockW.Unlock()

	if err := WriteEosMarker(c.s.conn); err == nil {
		c.s.conn.Flush()
	}
}

func (c *frameConsumer) OnError(err error) {
	c.s.logger.Errorf("decode failed, closing session; %v.", err)
	c.s.Close()
}

func (c *frameConsumer) Close() error { return nil }
