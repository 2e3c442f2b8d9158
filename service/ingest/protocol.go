// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/cnotch/vdechub/utils/scan"
)

const (
	vdpProto = "VDP/1.0" // 接入协议版本
)

// VDP 协议命令
const (
	CmdAnnounce = "ANNOUNCE" // 声明要接入解码的流
	CmdPlay     = "PLAY"     // 开始取回解码输出帧
	CmdPause    = "PAUSE"    // 暂停取回输出帧
	CmdTeardown = "TEARDOWN" // 关闭会话
	CmdGetInfo  = "GET_INFO" // 获取会话信息，可作心跳
)

// VDP 协议字段
const (
	FieldSeq           = "seq"            // 命令序列
	FieldPath          = "path"           // 流路径
	FieldSession       = "session"        // 会话标识
	FieldContentType   = "content-type"   // body 类型
	FieldContentLength = "content-length" // body 长度
	FieldAuthorization = "authorization"  // 验证信息
)

// VDP 响应状态码，沿用 HTTP 习惯
const (
	StatusOK                     = 200
	StatusBadRequest             = 400
	StatusUnauthorized           = 401
	StatusForbidden              = 403
	StatusNotFound               = 404
	StatusMethodNotValidInState  = 455
	StatusInternalServerError    = 500
	StatusNotImplemented         = 501
	StatusUnsupportedMediaFormat = 415
)

var statusTexts = map[int]string{
	StatusOK:                     "OK",
	StatusBadRequest:             "Bad Request",
	StatusUnauthorized:           "Unauthorized",
	StatusForbidden:              "Forbidden",
	StatusNotFound:               "Not Found",
	StatusMethodNotValidInState:  "Method Not Valid In This State",
	StatusInternalServerError:    "Internal Server Error",
	StatusNotImplemented:         "Not Implemented",
	StatusUnsupportedMediaFormat: "Unsupported Media Format",
}

type badStringError struct {
	what string
	str  string
}

func (e *badStringError) Error() string { return fmt.Sprintf("%s %q", e.what, e.str) }

var (
	spacePair = scan.NewPair(' ',
		func(r rune) bool {
			return unicode.IsSpace(r)
		})

	validCmds = map[string]bool{
		CmdAnnounce: true,
		CmdPlay:     true,
		CmdPause:    true,
		CmdTeardown: true,
		CmdGetInfo:  true,
	}
)

// Request VDP 协议请求
type Request struct {
	Cmd    string
	Header map[string]string
	Body   string
}

// ReadRequest 从连接读请求。调用方保证流里下一个字节不是数据帧前缀。
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	proto, cmd, _ := spacePair.Scan(line)
	if proto != vdpProto {
		return nil, &badStringError{"malformed VDP request proto", proto}
	}
	if _, ok := validCmds[cmd]; !ok {
		return nil, &badStringError{"malformed VDP request command", cmd}
	}

	req := &Request{
		Cmd:    cmd,
		Header: make(map[string]string, 4),
	}

	for {
		line, err = readLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		k, v, found := scan.ColonPair.Scan(line)
		if found {
			req.Header[strings.ToLower(k)] = v
		}
	}

	if cl := req.Header[FieldContentLength]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, &badStringError{"malformed VDP content-length", cl}
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		req.Body = string(body)
	}

	return req, nil
}

// BasicAuth 提取基础验证的用户名和密码
func (req *Request) BasicAuth() (username, password string, ok bool) {
	v := req.Header[FieldAuthorization]
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(v[len(prefix):])
	if err != nil {
		return
	}
	cs := string(decoded)
	i := strings.IndexByte(cs, ':')
	if i < 0 {
		return
	}
	return cs[:i], cs[i+1:], true
}

// Response VDP 协议响应
type Response struct {
	StatusCode int
	Status     string
	Header     map[string]string
	Body       string
}

// Write 编码响应并写入 w
func (resp *Response) Write(w io.Writer) error {
	status := resp.Status
	if status == "" {
		status = statusTexts[resp.StatusCode]
	}

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	fmt.Fprintf(buf, "%s %d %s\r\n", vdpProto, resp.StatusCode, status)
	for k, v := range resp.Header {
		fmt.Fprintf(buf, "%s: %s\r\n", k, v)
	}
	if len(resp.Body) > 0 {
		fmt.Fprintf(buf, "%s: %d\r\n", FieldContentLength, len(resp.Body))
	}
	buf.WriteString("\r\n")
	buf.WriteString(resp.Body)

	_, err := w.Write(buf.Bytes())
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
