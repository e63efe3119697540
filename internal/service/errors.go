package service

import "github.com/user/cinematch/internal/utils"

// 上游错误分类，供 handler 判断
var (
	ErrTransient = utils.ErrTransient
	ErrNotFound  = utils.ErrNotFound
	ErrUpstream  = utils.ErrUpstream
)
