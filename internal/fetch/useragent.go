package fetch

import "math/rand"

// clientProfile 描述一套自洽的浏览器身份：UA 与 client hints 必须匹配，
// 否则比不伪装更容易被识别。
type clientProfile struct {
	UserAgent string
	SecChUA   string
	Platform  string
	Mobile    bool
}

// 小而真实的桌面 / 移动端身份池。版本号要跟随真实浏览器发布节奏更新。
var clientProfiles = []clientProfile{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		SecChUA:   `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		Platform:  `"Windows"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		SecChUA:   `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		Platform:  `"macOS"`,
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		SecChUA:   `"Chromium";v="123", "Google Chrome";v="123", "Not-A.Brand";v="99"`,
		Platform:  `"Linux"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
		SecChUA:   `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		Platform:  `"Android"`,
		Mobile:    true,
	},
}

// pickProfile 返回一个随机身份。同一会话内保持不变，跨会话轮换。
func pickProfile() clientProfile {
	return clientProfiles[rand.Intn(len(clientProfiles))]
}
