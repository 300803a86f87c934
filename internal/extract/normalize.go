package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
)

var nonDigitRe = regexp.MustCompile(`\D`)

// NormalizePhone 把任意格式的西班牙电话归一化成 9 位数字。
//
// 接受可选的 +34 / 0034 / 34 国家前缀与任意空格、点、横线分隔；
// 归一化后不足 9 位或多余位数对不上前缀规则时返回空串。
func NormalizePhone(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")

	switch {
	case len(digits) == 13 && strings.HasPrefix(digits, "0034"):
		digits = digits[4:]
	case len(digits) == 11 && strings.HasPrefix(digits, "34"):
		digits = digits[2:]
	}

	if len(digits) != 9 {
		return ""
	}
	// 西班牙固话 / 手机号段均以 6/7/8/9 开头
	switch digits[0] {
	case '6', '7', '8', '9':
		return digits
	}
	return ""
}

var priceRe = regexp.MustCompile(`\d[\d.\s]*\d|\d`)

// ParsePrice 从文本解析整数欧元价格（"295.000 €" → 295000）。
// 去掉千位分隔，小数部分直接截断；非正数返回 nil。
func ParsePrice(raw string) *int64 {
	// 逗号后是小数部分，截断
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[:i]
	}
	m := priceRe.FindString(raw)
	if m == "" {
		return nil
	}
	digits := nonDigitRe.ReplaceAllString(m, "")
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

var surfaceRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m[²2]`)

// ParseSurface 从文本解析建筑面积（"85 m²" → 85.0）。逗号视为小数点。
func ParseSurface(raw string) *float64 {
	m := surfaceRe.FindStringSubmatch(raw)
	if len(m) != 2 {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

var roomsRe = regexp.MustCompile(`(\d+)\s*(?:hab|dorm)`)

// ParseRooms 从文本解析房间数（"3 hab." / "3 dormitorios" → 3）。
func ParseRooms(raw string) *int {
	m := roomsRe.FindStringSubmatch(strings.ToLower(raw))
	if len(m) != 2 {
		return nil
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// 卖家类型关键词。西语门户的常见措辞，随门户文案调整需要补充。
var (
	agencyTerms = []string{
		"inmobiliaria",
		"agencia",
		"profesional",
		"promotora",
		"gestora",
		"real estate",
		"consulting",
		"servicios inmobiliarios",
		"ref. agencia",
	}
	privateTerms = []string{
		"particular",
		"propietario",
		"dueño",
		"venta directa",
		"sin intermediarios",
		"sin comisiones",
		"abstenerse agencias",
	}
)

// ClassifySeller 按关键词计分判断卖家类型。
// 中介命中数严格多于私人命中数 ⇒ agency；否则有任何私人信号 ⇒ private；
// 双方都无信号 ⇒ unknown。
func ClassifySeller(text string) model.SellerType {
	lower := strings.ToLower(text)

	var agencyHits, privateHits int
	for _, t := range agencyTerms {
		if strings.Contains(lower, t) {
			agencyHits++
		}
	}
	for _, t := range privateTerms {
		if strings.Contains(lower, t) {
			privateHits++
		}
	}

	switch {
	case agencyHits > privateHits:
		return model.SellerAgency
	case privateHits > 0:
		return model.SellerPrivate
	default:
		return model.SellerUnknown
	}
}
