// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package media

import (
	"encoding/base64"
	"strings"

	"github.com/cnotch/vdechub/av"
	"github.com/cnotch/vdechub/av/h264"
	"github.com/cnotch/vdechub/utils/scan"
	"github.com/pixelbender/go-sdp/sdp"
)

func parseMeta(rawsdp string, video *av.VideoMeta) {
	sd, err := sdp.ParseString(rawsdp)
	if err != nil {
		return
	}

	for _, media := range sd.Media {
		if media.Type != "video" {
			continue
		}

		video.Codec = media.Format[0].Name
		if video.Codec == "" {
			continue
		}

		for _, bw := range media.Bandwidth {
			if bw.Type == "AS" {
				video.DataRate = float64(bw.Value)
			}
		}
		parseVideoMeta(media.Format[0], video)
	}
}

func parseVideoMeta(m *sdp.Format, video *av.VideoMeta) {
	if m.ClockRate > 0 {
		video.ClockRate = m.ClockRate
	}

	switch video.Codec {
	case "h264", "H264":
		video.Codec = "H264"
	default:
		return
	}

	for _, p := range m.Params {
		i := strings.Index(p, "sprop-parameter-sets=")
		if i < 0 {
			continue
		}
		p = p[i+len("sprop-parameter-sets="):]

		endi := strings.IndexByte(p, ';')
		if endi > -1 {
			p = p[:endi]
		}
		parseH264SpsPps(p, video)
		break
	}
}

func parseH264SpsPps(s string, video *av.VideoMeta) {
	ppsStr, spsStr, ok := scan.Comma.Scan(s)
	if !ok {
		return
	}

	sps, err := base64.StdEncoding.DecodeString(spsStr)
	if err != nil {
		return
	}

	pps, err := base64.StdEncoding.DecodeString(ppsStr)
	if err != nil {
		return
	}

	parsed, err := h264.DecodeSPS(sps)
	if err != nil {
		return
	}

	video.Width = parsed.Width()
	video.Height = parsed.Height()
	video.Sps = sps
	video.Pps = pps
}
