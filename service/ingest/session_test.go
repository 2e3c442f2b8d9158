// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/cnotch/xlog"
	"github.com/stretchr/testify/assert"
)

func startTestServer(t *testing.T) (addr string, stop func()) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	svr := &Server{logger: xlog.L()}
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			svr.onAcceptConn(c)
		}
	}()
	return l.Addr().String(), func() { l.Close() }
}

func sendCmd(t *testing.T, conn net.Conn, cmd string, headers map[string]string, body string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\r\n", vdpProto, cmd)
	for k, v := range headers {
		fmt.Fprintf(&sb, "%s: %s\r\n", k, v)
	}
	if body != "" {
		fmt.Fprintf(&sb, "%s: %d\r\n", FieldContentLength, len(body))
	}
	sb.WriteString("\r\n")
	sb.WriteString(body)

	_, err := conn.Write([]byte(sb.String()))
	assert.NoError(t, err)
}

func readStatus(t *testing.T, r *bufio.Reader) (code int, headers map[string]string) {
	line, err := readLine(r)
	assert.NoError(t, err)

	fields := strings.SplitN(line, " ", 3)
	assert.Equal(t, vdpProto, fields[0])
	code, err = strconv.Atoi(fields[1])
	assert.NoError(t, err)

	headers = make(map[string]string)
	for {
		line, err = readLine(r)
		assert.NoError(t, err)
		if line == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		headers[strings.ToLower(line[:i])] = strings.TrimSpace(line[i+1:])
	}
	return
}

func TestSession_GetInfo(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendCmd(t, conn, CmdGetInfo, map[string]string{FieldSeq: "7"}, "")
	code, headers := readStatus(t, r)
	assert.Equal(t, StatusOK, code)
	assert.Equal(t, "7", headers[FieldSeq])
}

func TestSession_AnnounceRequiresSdp(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendCmd(t, conn, CmdAnnounce, map[string]string{
		FieldSeq:         "1",
		FieldPath:        "cam/door",
		FieldContentType: "text/plain",
	}, "bogus")
	code, _ := readStatus(t, r)
	assert.Equal(t, StatusBadRequest, code)
}

func TestSession_AnnounceRequiresPath(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendCmd(t, conn, CmdAnnounce, map[string]string{
		FieldSeq:         "1",
		FieldContentType: "application/sdp",
	}, "v=0\r\n")
	code, _ := readStatus(t, r)
	assert.Equal(t, StatusBadRequest, code)
}

func TestSession_PlayBeforeAnnounce(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendCmd(t, conn, CmdPlay, map[string]string{FieldSeq: "1"}, "")
	code, _ := readStatus(t, r)
	assert.Equal(t, StatusMethodNotValidInState, code)
}

func TestSession_Teardown(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendCmd(t, conn, CmdTeardown, map[string]string{FieldSeq: "2"}, "")
	code, _ := readStatus(t, r)
	assert.Equal(t, StatusOK, code)

	// 会话关闭后连接终止
	_, err = r.ReadByte()
	assert.Error(t, err)
}

func TestSession_MalformedCommandCloses(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	_, err = conn.Write([]byte("HTTP/1.1 GET /\r\n\r\n"))
	assert.NoError(t, err)

	_, err = r.ReadByte()
	assert.Error(t, err)
}

func TestSession_InputBeforeAnnounceCloses(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	assert.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	err = WriteInputData(conn, &InputData{Data: []byte{0, 0, 0, 1, 0x65}})
	assert.NoError(t, err)

	_, err = r.ReadByte()
	assert.Error(t, err)
}
