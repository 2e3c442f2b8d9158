// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package av

// VideoMeta 视频元数据
type VideoMeta struct {
	Codec     string  `json:"codec"`
	DataRate  float64 `json:"datarate,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"framerate,omitempty"`
	ClockRate int     `json:"clockrate,omitempty"`
	Sps       []byte  `json:"-"`
	Pps       []byte  `json:"-"`
	Vps       []byte  `json:"-"`
}
