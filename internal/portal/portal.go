package portal

import "strings"

// Portal 标识一个房源门户。
type Portal string

const (
	Fotocasa    Portal = "fotocasa"
	Habitaclia  Portal = "habitaclia"
	Idealista   Portal = "idealista"
	Milanuncios Portal = "milanuncios"
	Pisos       Portal = "pisos"
)

// Strategy 标识抓取策略。每个门户固定使用一种策略，不做运行时协商。
type Strategy string

const (
	// StrategyImpersonation 协议级浏览器伪装，不渲染页面。
	StrategyImpersonation Strategy = "impersonation"
	// StrategyBrowser 完整浏览器会话，带反指纹补丁与挑战求解。
	StrategyBrowser Strategy = "browser"
)

// Profile 描述一个门户的静态画像：入口地址、抓取策略、反爬特征。
//
// 数值与关键词都是经验值，随门户改版需要重新校准；可被配置覆盖的部分
// 见 config 包。
type Profile struct {
	ID       Portal
	BaseURL  string   // 门户首页（warm-up 请求目标）
	Strategy Strategy // 固定抓取策略
	Safe     bool     // 无激进反爬，默认允许生命周期核查
	Account  string   // Cookie 持久化的账户维度（匿名会话用 "anon"）

	// ChallengeCookie 挑战求解成功后注入 token 的 Cookie 名。
	ChallengeCookie string

	// RemovalPhrases 页面出现这些短语时判定房源已下架。
	RemovalPhrases []string
}

// 内置门户画像。新增门户 = 此表加一行 + extract 包注册一个解析器。
var profiles = map[Portal]Profile{
	Fotocasa: {
		ID:              Fotocasa,
		BaseURL:         "https://www.fotocasa.es",
		Strategy:        StrategyImpersonation,
		Safe:            true,
		Account:         "anon",
		ChallengeCookie: "datadome",
		RemovalPhrases: []string{
			"este inmueble ya no está disponible",
			"el anuncio que buscas ya no existe",
		},
	},
	Habitaclia: {
		ID:       Habitaclia,
		BaseURL:  "https://www.habitaclia.com",
		Strategy: StrategyImpersonation,
		Safe:     true,
		Account:  "anon",
		RemovalPhrases: []string{
			"este anuncio ya no está disponible",
			"inmueble no disponible",
		},
	},
	Idealista: {
		ID:              Idealista,
		BaseURL:         "https://www.idealista.com",
		Strategy:        StrategyBrowser,
		Safe:            false, // DataDome，核查需显式开启
		Account:         "anon",
		ChallengeCookie: "datadome",
		RemovalPhrases: []string{
			"este anuncio ya no está publicado",
			"anuncio dado de baja",
		},
	},
	Milanuncios: {
		ID:              Milanuncios,
		BaseURL:         "https://www.milanuncios.com",
		Strategy:        StrategyBrowser,
		Safe:            false,
		Account:         "anon",
		ChallengeCookie: "datadome",
		RemovalPhrases: []string{
			"este anuncio ha sido eliminado",
			"el anuncio ya no está disponible",
		},
	},
	Pisos: {
		ID:       Pisos,
		BaseURL:  "https://www.pisos.com",
		Strategy: StrategyImpersonation,
		Safe:     true,
		Account:  "anon",
		RemovalPhrases: []string{
			"este inmueble ya no está en anuncios",
			"anuncio no disponible",
		},
	},
}

// Lookup 按标识查找门户画像。
func Lookup(id Portal) (Profile, bool) {
	p, ok := profiles[id]
	return p, ok
}

// Parse 将字符串解析为 Portal，不区分大小写。
func Parse(s string) (Portal, bool) {
	id := Portal(strings.ToLower(strings.TrimSpace(s)))
	_, ok := profiles[id]
	return id, ok
}

// All 返回全部已知门户标识（固定顺序）。
func All() []Portal {
	return []Portal{Fotocasa, Habitaclia, Idealista, Milanuncios, Pisos}
}
