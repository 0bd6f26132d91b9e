package extractor

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"

	"quizrunner/internal/browser"

	"github.com/tidwall/gjson"
)

var (
	encodedPayloadRe = regexp.MustCompile("(?s)atob\\(`(.*?)`\\)")
	jsonObjectRe     = regexp.MustCompile(`(?s)\{.*\}`)
	urlRe            = regexp.MustCompile(`https?://[^\s'"]+`)
)

// FindEncodedPayload 返回首个 atob(`...`) 中的内容
func FindEncodedPayload(html string) (string, bool) {
	m := encodedPayloadRe.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DecodePayload 去除空白后按 base64 解码，兼容 URL 字母表和无填充形式
func DecodePayload(blob string) (string, bool) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, blob)
	if clean == "" {
		return "", false
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(clean); err == nil {
			return strings.ToValidUTF8(string(b), "\uFFFD"), true
		}
	}
	return "", false
}

// FindJSONObject 从首个 { 到最后一个 } 的贪婪匹配
func FindJSONObject(text string) (string, bool) {
	s := jsonObjectRe.FindString(text)
	return s, s != ""
}

// PayloadAnswer 对象合法且含 answer 字段时返回其原始 JSON，0、false、null 都算
func PayloadAnswer(obj string) ([]byte, bool) {
	if !gjson.Valid(obj) {
		return nil, false
	}
	parsed := gjson.Parse(obj)
	if !parsed.IsObject() {
		return nil, false
	}
	ans := parsed.Get("answer")
	if !ans.Exists() {
		return nil, false
	}
	return []byte(ans.Raw), true
}

// FindURL 文本中第一个 http(s) 地址
func FindURL(text string) (string, bool) {
	s := urlRe.FindString(text)
	return s, s != ""
}

// PayloadStrategy 从页面内嵌的 base64 载荷中读取答案
type PayloadStrategy struct{}

func (PayloadStrategy) Name() string { return "payload" }

func (PayloadStrategy) Extract(page *browser.Page) (Result, error) {
	blob, ok := FindEncodedPayload(page.HTML())
	if !ok {
		return Result{Outcome: NoMatch}, nil
	}
	text, ok := DecodePayload(blob)
	if !ok {
		return Result{Outcome: NoMatch}, nil
	}
	obj, ok := FindJSONObject(text)
	if !ok {
		return Result{Outcome: NoMatch}, nil
	}
	answer, ok := PayloadAnswer(obj)
	if !ok {
		return Result{Outcome: NoMatch}, nil
	}
	submitURL, ok := FindURL(text)
	if !ok {
		return Result{Outcome: Unroutable, Answer: answer}, nil
	}
	return Result{Outcome: Matched, Answer: answer, SubmitURL: submitURL}, nil
}
