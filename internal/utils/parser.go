package utils

import (
	"regexp"
	"strings"
)

var (
	// 列表序号与项目符号：1. 1) - * •
	reListMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)
	// 末尾年份 (1995) / [2010]
	reTrailingYear = regexp.MustCompile(`\s*[(\[]\s*\d{4}\s*[)\]]\s*$`)
	// 句首 and/& 连接词（"X, Y, and Z"）
	reLeadingAnd = regexp.MustCompile(`(?i)^(?:and|&)\s+`)
)

// CleanTitle 清理 AI 返回的单个标题中的杂质信息
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}

	title = reListMarker.ReplaceAllString(title, "")
	title = reLeadingAnd.ReplaceAllString(title, "")
	title = strings.Trim(title, "\"'“”‘’*_`")
	// 句末的点要先去掉，否则年份匹配不到行尾
	title = strings.TrimRight(title, ". ")
	title = reTrailingYear.ReplaceAllString(title, "")
	title = strings.Trim(title, "\"'“”‘’*_`")
	title = strings.TrimRight(title, ". ")

	// 处理多余空格
	return strings.Join(strings.Fields(title), " ")
}
