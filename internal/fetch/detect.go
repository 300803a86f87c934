package fetch

import (
	"context"
	"errors"
	"strings"
)

// 挑战 / 封锁页面关键词。按西班牙门户常见的反爬供应商维护：
// DataDome（idealista / milanuncios）、Cloudflare、通用验证码。
var (
	challengeHints = []string{
		"datadome",
		"geo.captcha-delivery.com",
		"dd.js",
		"interstitial",
		"cloudflare",
		"attention required",
		"just a moment",
		"checking your browser",
		"challenge-platform",
		"cf-browser-verification",
		"turnstile",
		"recaptcha",
		"hcaptcha",
		"captcha",
		"verify you are human",
		"comprueba que eres humano",
		"demasiadas peticiones",
	}
	blockedTitleHints = []string{
		"just a moment",
		"attention required",
		"access denied",
		"403 forbidden",
		"blocked",
	}
)

// containsAny 检查文本是否包含任意一个关键词。
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// LooksLikeChallenge 报告响应体是否命中挑战特征。
func LooksLikeChallenge(body []byte) bool {
	return containsAny(strings.ToLower(string(body)), challengeHints)
}

// LooksLikeChallengeURL 报告导航落点 URL 是否是挑战页
//（DataDome 会把浏览器重定向到 captcha-delivery 域）。
func LooksLikeChallengeURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, "captcha-delivery.com") ||
		strings.Contains(lower, "/captcha") ||
		strings.Contains(lower, "geo.captcha")
}

// DetectBlockType 归类拦截类型，供日志与 metrics 使用。
func DetectBlockType(title, html string) string {
	lowerTitle := strings.ToLower(title)
	lowerHTML := strings.ToLower(html)

	if strings.Contains(lowerHTML, "datadome") ||
		strings.Contains(lowerHTML, "geo.captcha-delivery.com") {
		return "datadome_challenge"
	}

	if strings.Contains(lowerTitle, "just a moment") ||
		strings.Contains(lowerHTML, "cloudflare") ||
		strings.Contains(lowerHTML, "cf-browser-verification") ||
		strings.Contains(lowerHTML, "challenge-platform") ||
		strings.Contains(lowerHTML, `id="challenge-form"`) ||
		strings.Contains(lowerHTML, "turnstile") {
		return "cloudflare_challenge"
	}

	if strings.Contains(lowerHTML, "recaptcha") ||
		strings.Contains(lowerHTML, "hcaptcha") ||
		strings.Contains(lowerHTML, "captcha") ||
		strings.Contains(lowerHTML, "comprueba que eres humano") {
		return "captcha"
	}

	if strings.Contains(lowerTitle, "403") ||
		strings.Contains(lowerTitle, "forbidden") ||
		strings.Contains(lowerHTML, "access denied") {
		return "403_forbidden"
	}

	if strings.Contains(lowerTitle, "429") ||
		strings.Contains(lowerHTML, "too many requests") ||
		strings.Contains(lowerHTML, "demasiadas peticiones") {
		return "429_rate_limited"
	}

	for _, hint := range blockedTitleHints {
		if strings.Contains(lowerTitle, hint) {
			return "blocked_title"
		}
	}

	if len(html) < 100 {
		return "blank_page"
	}
	return "unknown"
}

// ============================================================================
// 错误分类
// ============================================================================

type fetchErrorType int

const (
	errTypeUnknown fetchErrorType = iota
	errTypeTimeout
	errTypeBlocked // 被拦截（403/429/挑战页）
	errTypeNetwork // 传输层错误
)

func classifyError(err error) fetchErrorType {
	if err == nil {
		return errTypeUnknown
	}
	if errors.Is(err, ErrBlocked) || errors.Is(err, ErrChallengeUnsolvable) {
		return errTypeBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errTypeTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"403", "429", "forbidden", "too many requests", "blocked"} {
		if strings.Contains(msg, kw) {
			return errTypeBlocked
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return errTypeTimeout
	}
	for _, kw := range []string{"net::", "connection", "navigate", "no such host", "refused"} {
		if strings.Contains(msg, kw) {
			return errTypeNetwork
		}
	}
	return errTypeUnknown
}

// ClassifyResult 返回用于 metrics result label 的字符串。
func ClassifyResult(err error) string {
	switch classifyError(err) {
	case errTypeBlocked:
		return "blocked"
	case errTypeTimeout:
		return "timeout"
	case errTypeNetwork:
		return "network_error"
	default:
		if err == nil {
			return "success"
		}
		return "error"
	}
}

// IsTransient 报告错误是否是临时性故障（超时 / 连接错误）。
// 生命周期核查绝不把临时故障当成下架证据。
func IsTransient(err error) bool {
	t := classifyError(err)
	return t == errTypeTimeout || t == errTypeNetwork
}
