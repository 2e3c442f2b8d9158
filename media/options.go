// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package media

import (
	"strings"
)

// Option 配置 Stream 的选项接口
type Option interface {
	apply(*Stream)
}

// optionFunc 包装函数以便它满足 Option 接口
type optionFunc func(*Stream)

func (f optionFunc) apply(s *Stream) {
	f(s)
}

// Attr 流属性选项
func Attr(k, v string) Option {
	return optionFunc(func(s *Stream) {
		k := strings.ToLower(strings.TrimSpace(k))
		s.attrs[k] = v
	})
}
