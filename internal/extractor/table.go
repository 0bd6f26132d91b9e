package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"quizrunner/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

var (
	nonNumericRe  = regexp.MustCompile(`[^0-9.-]`)
	floatPrefixRe = regexp.MustCompile(`^-?(?:\d+(?:\.\d*)?|\.\d+)`)
	submitLinkRe  = regexp.MustCompile(`(?i)submit|answer`)
)

// Table 表头和表体单元格文本，均已去除首尾空白
type Table struct {
	Headers []string
	Rows    [][]string
}

// ParseTables 收集页面中所有表格，表头取 thead th，表体取 tbody tr 下的 td
func ParseTables(doc *goquery.Document) []Table {
	var tables []Table
	doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		var t Table
		sel.Find("thead th").Each(func(_ int, th *goquery.Selection) {
			t.Headers = append(t.Headers, strings.TrimSpace(th.Text()))
		})
		sel.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
			var row []string
			tr.Find("td").Each(func(_ int, td *goquery.Selection) {
				row = append(row, strings.TrimSpace(td.Text()))
			})
			t.Rows = append(t.Rows, row)
		})
		tables = append(tables, t)
	})
	return tables
}

// ValueColumn 第一个包含 "value"（不区分大小写）的表头下标
func (t Table) ValueColumn() (int, bool) {
	for i, h := range t.Headers {
		if strings.Contains(strings.ToLower(h), "value") {
			return i, true
		}
	}
	return -1, false
}

// Sum 对指定列求和，缺失或无法解析的单元格按 0 计
func (t Table) Sum(col int) float64 {
	var sum float64
	for _, row := range t.Rows {
		if col < len(row) {
			if n, ok := ParseNumber(row[col]); ok {
				sum += n
			}
		}
	}
	return sum
}

// ParseNumber 只保留数字、. 和 -，再取最长的合法浮点前缀，例如 "$5.50" -> 5.5
func ParseNumber(cell string) (float64, bool) {
	prefix := floatPrefixRe.FindString(nonNumericRe.ReplaceAllString(cell, ""))
	if prefix == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatNumber 最短往返表示，-0 记为 0
func FormatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ResolveSubmitURL 优先取第一个 form 的 action，否则取文本含 submit/answer 的链接，
// 相对地址按 <base href> 或页面地址解析
func ResolveSubmitURL(doc *goquery.Document, pageURL string) (string, bool) {
	var raw string
	if action, ok := doc.Find("form").First().Attr("action"); ok && strings.TrimSpace(action) != "" {
		raw = action
	} else {
		doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if !submitLinkRe.MatchString(a.Text()) {
				return true
			}
			if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
				raw = href
			}
			return false
		})
	}
	if raw == "" {
		return "", false
	}
	return resolveRef(documentBase(doc, pageURL), strings.TrimSpace(raw))
}

func documentBase(doc *goquery.Document, pageURL string) string {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return pageURL
	}
	if abs, ok := resolveRef(pageURL, strings.TrimSpace(href)); ok {
		return abs
	}
	return pageURL
}

func resolveRef(base, ref string) (string, bool) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		if r.IsAbs() {
			return r.String(), true
		}
		return "", false
	}
	return b.ResolveReference(r).String(), true
}

// TableStrategy 对表格 value 列求和
type TableStrategy struct{}

func (TableStrategy) Name() string { return "table" }

// Extract 提交地址是页面级的，对每个含 value 列的表格都会尝试解析；
// 解析不到时继续扫描后续表格，全部失败则返回 Unroutable
func (TableStrategy) Extract(page *browser.Page) (Result, error) {
	doc, err := page.Document()
	if err != nil {
		return Result{}, err
	}
	res := Result{Outcome: NoMatch}
	for _, t := range ParseTables(doc) {
		col, ok := t.ValueColumn()
		if !ok {
			continue
		}
		answer := []byte(FormatNumber(t.Sum(col)))
		submitURL, ok := ResolveSubmitURL(doc, page.URL())
		if !ok {
			if res.Outcome == NoMatch {
				res = Result{Outcome: Unroutable, Answer: answer}
			}
			continue
		}
		return Result{Outcome: Matched, Answer: answer, SubmitURL: submitURL}, nil
	}
	return res, nil
}
