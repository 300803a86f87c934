// Package watermark 实现首图水印启发式：中介会在照片上叠加品牌 logo，
// 水印区域的边缘密度显著高于普通照片背景。把首图转灰度、做边缘滤波，
// 在底部横条与右下角两个常见水印位置测平均边缘强度，超过经验阈值
// 即判定为中介图。
//
// 这只是一个代理信号：下载或解码失败一律按"无水印"处理（fail open），
// 绝不因为一张图让采集流水线报错。
package watermark

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
)

const maxImageBytes = 10 * 1024 * 1024

// laplacian 边缘检测核。平坦区域输出接近 0，边缘处输出高强度。
var laplacian = [9]float64{
	0, -1, 0,
	-1, 4, -1,
	0, -1, 0,
}

// Result 单张图片的分析结果。分数是 0–100 的归一化平均边缘强度。
type Result struct {
	StripScore  float64 // 底部 15% 横条
	CornerScore float64 // 右下角裁切
	Watermarked bool
}

// Heuristic 首图水印判定器。
type Heuristic struct {
	cfg    config.WatermarkConfig
	client *http.Client
	logger *slog.Logger
}

func New(cfg config.WatermarkConfig, logger *slog.Logger) *Heuristic {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Heuristic{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// IsWatermarked 下载并分析一张图片。任何失败都返回 false。
func (h *Heuristic) IsWatermarked(ctx context.Context, photoURL string) bool {
	img, err := h.download(ctx, photoURL)
	if err != nil {
		h.logger.Debug("watermark check skipped",
			slog.String("url", photoURL),
			slog.String("error", err.Error()))
		return false
	}
	return h.Analyze(img).Watermarked
}

// Analyze 对已解码的图片执行启发式判定。
func (h *Heuristic) Analyze(img image.Image) Result {
	gray := imaging.Grayscale(img)
	edges := imaging.Convolve3x3(gray, laplacian, nil)

	b := edges.Bounds()
	w, ht := b.Dx(), b.Dy()

	// 底部 15% 横条：贯穿式水印的常见位置
	strip := image.Rect(b.Min.X, b.Min.Y+ht*85/100, b.Max.X, b.Max.Y)
	// 右下角 25%：logo 角标的常见位置
	corner := image.Rect(b.Min.X+w*75/100, b.Min.Y+ht*75/100, b.Max.X, b.Max.Y)

	res := Result{
		StripScore:  edgeScore(edges, strip),
		CornerScore: edgeScore(edges, corner),
	}
	res.Watermarked = res.StripScore > h.cfg.StripThreshold || res.CornerScore > h.cfg.CornerThreshold
	return res
}

func (h *Heuristic) download(ctx context.Context, photoURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// edgeScore 计算区域内的平均边缘强度，归一化到 0–100。
func edgeScore(edges *image.NRGBA, region image.Rectangle) float64 {
	region = region.Intersect(edges.Bounds())
	if region.Empty() {
		return 0
	}

	var sum, count float64
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			// 灰度图三通道相同，取 R 即可
			i := edges.PixOffset(x, y)
			sum += float64(edges.Pix[i])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / count / 255 * 100
}
