// Package extract 实现各门户的页面解析与字段归一化。
//
// 每个门户一个解析器，统一满足 Extractor 接口；新增门户 = 实现一个
// 解析器 + 在 NewRegistry 里注册一行。解析分两种风格：
//   - 结构化提取：页面内嵌 JSON 负载（全局变量或 script 标签），
//     按已知嵌套路径走到广告数组（fotocasa / milanuncios）。
//   - 模式提取：goquery 选择器 + 正则直接从渲染后的 HTML 拉字段
//     （habitaclia / pisos / idealista 详情页补全）。
//
// 本引擎服务于私人业主线索，中介广告在列表解析阶段直接过滤掉。
package extract

import (
	"errors"
	"regexp"

	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// ErrExtractionMismatch 页面抓取成功但预期的结构化负载 / 标记缺失。
// 这是门户改版的健康信号，不是抓取级致命错误。
var ErrExtractionMismatch = errors.New("extract: expected markers not found")

// Extractor 把一次抓取结果解析成归一化房源。
type Extractor interface {
	// Portal 返回该解析器绑定的门户。
	Portal() portal.Portal
	// ExtractList 解析搜索结果页，返回（可能不完整的）房源列表。
	// 中介广告已被过滤；结构化负载缺失时返回 ErrExtractionMismatch。
	ExtractList(res *fetch.PageResult) ([]*model.Listing, error)
	// ExtractDetail 解析详情页，返回单条完整房源。
	ExtractDetail(res *fetch.PageResult) (*model.Listing, error)
}

// Registry 按门户索引解析器。
type Registry struct {
	extractors map[portal.Portal]Extractor
}

// NewRegistry 返回注册了全部内置解析器的 Registry。
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[portal.Portal]Extractor)}
	for _, e := range []Extractor{
		newFotocasaExtractor(),
		newHabitacliaExtractor(),
		newIdealistaExtractor(),
		newMilanunciosExtractor(),
		newPisosExtractor(),
	} {
		r.extractors[e.Portal()] = e
	}
	return r
}

// Get 返回某门户的解析器。
func (r *Registry) Get(p portal.Portal) (Extractor, bool) {
	e, ok := r.extractors[p]
	return e, ok
}

var externalIDRe = regexp.MustCompile(`(\d{6,})`)

// externalIDFromURL 从详情页 URL 中提取门户侧房源 ID。
func externalIDFromURL(url string) string {
	if m := externalIDRe.FindString(url); m != "" {
		return m
	}
	return ""
}
