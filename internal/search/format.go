package search

import (
	"fmt"
	"strings"
)

// TextLimit is how many results a text reply lists before summarising.
const TextLimit = 8

// FormatText renders results as a chat reply.
func FormatText(keyword string, results []Result) string {
	if len(results) == 0 {
		return NotFoundText(keyword)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 搜索「%s」找到 %d 条结果：\n\n", keyword, len(results))

	for i, r := range results {
		if i == TextLimit {
			break
		}
		fmt.Fprintf(&b, "%d. 【%s】%s\n", i+1, r.Category, r.Plugin.Name)
		if r.Plugin.Desc != "" {
			fmt.Fprintf(&b, "   📝 %s\n", r.Plugin.Desc)
		}
		if r.MatchedCommand != "" {
			fmt.Fprintf(&b, "   🎯 匹配: %s\n", r.MatchedCommand)
		}
		b.WriteByte('\n')
	}

	if len(results) > TextLimit {
		fmt.Fprintf(&b, "...还有 %d 条结果", len(results)-TextLimit)
	}

	return strings.TrimSpace(b.String())
}

// NotFoundText is the reply for a search without matches.
func NotFoundText(keyword string) string {
	return fmt.Sprintf("🔍 未找到与「%s」相关的指令", keyword)
}

// SubtitleFor is the heading drawn above a rendered search result.
func SubtitleFor(keyword string, n int) string {
	return fmt.Sprintf("搜索「%s」· %d 条结果", keyword, n)
}
