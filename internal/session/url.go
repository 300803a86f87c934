package session

import (
	"fmt"
	"strings"

	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// SearchURL 构造某门户在指定区域的搜索结果页 URL。
//
// zone 是小写、连字符分隔的区域 slug（如 "barcelona-capital"）。
// 各门户的路径与翻页参数差异都收敛在这里，解析器不关心 URL 结构。
func SearchURL(p portal.Profile, zone string, page int) string {
	zone = normalizeZone(zone)
	if page < 1 {
		page = 1
	}

	switch p.ID {
	case portal.Fotocasa:
		u := fmt.Sprintf("%s/es/comprar/viviendas/%s/todas-las-zonas/l", p.BaseURL, zone)
		if page > 1 {
			u = fmt.Sprintf("%s/%d", u, page)
		}
		return u
	case portal.Habitaclia:
		if page > 1 {
			return fmt.Sprintf("%s/viviendas-%s-%d.htm", p.BaseURL, zone, page)
		}
		return fmt.Sprintf("%s/viviendas-%s.htm", p.BaseURL, zone)
	case portal.Idealista:
		u := fmt.Sprintf("%s/venta-viviendas/%s/", p.BaseURL, zone)
		if page > 1 {
			u = fmt.Sprintf("%spagina-%d.htm", u, page)
		}
		return u
	case portal.Milanuncios:
		u := fmt.Sprintf("%s/venta-de-pisos-en-%s/", p.BaseURL, zone)
		if page > 1 {
			u = fmt.Sprintf("%s?pagina=%d", u, page)
		}
		return u
	case portal.Pisos:
		u := fmt.Sprintf("%s/venta/pisos-%s/", p.BaseURL, zone)
		if page > 1 {
			u = fmt.Sprintf("%s%d/", u, page)
		}
		return u
	default:
		return p.BaseURL
	}
}

func normalizeZone(zone string) string {
	zone = strings.ToLower(strings.TrimSpace(zone))
	zone = strings.ReplaceAll(zone, " ", "-")
	if zone == "" {
		zone = "barcelona"
	}
	return zone
}
