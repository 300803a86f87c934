package watermark

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
)

func testCfg() config.WatermarkConfig {
	return config.WatermarkConfig{
		StripThreshold:  22,
		CornerThreshold: 28,
		Timeout:         2 * time.Second,
	}
}

// flatImage 纯色照片：没有任何边缘。
func flatImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	return img
}

// brandedImage 在底部横条画 1px 棋盘格，模拟文字水印的高频边缘。
func brandedImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 120, G: 120, B: 120, A: 255}
			if y >= h*85/100 && (x+y)%2 == 0 {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// ============ 判定 ============

func TestAnalyzeFlatImageUnbranded(t *testing.T) {
	h := New(testCfg(), slog.Default())
	res := h.Analyze(flatImage(200, 150))
	if res.Watermarked {
		t.Errorf("flat image classified as watermarked: strip=%f corner=%f", res.StripScore, res.CornerScore)
	}
	if res.StripScore > 1 {
		t.Errorf("flat strip score = %f, want near 0", res.StripScore)
	}
}

func TestAnalyzeBrandedStrip(t *testing.T) {
	h := New(testCfg(), slog.Default())
	res := h.Analyze(brandedImage(200, 150))
	if !res.Watermarked {
		t.Errorf("branded image not detected: strip=%f corner=%f", res.StripScore, res.CornerScore)
	}
	if res.StripScore <= testCfg().StripThreshold {
		t.Errorf("strip score = %f, want > %f", res.StripScore, testCfg().StripThreshold)
	}
}

func TestAnalyzeThresholdsFromConfig(t *testing.T) {
	// 阈值抬到不可能达到的水平时，同一张图必须判定为无水印
	cfg := testCfg()
	cfg.StripThreshold = 99
	cfg.CornerThreshold = 99
	h := New(cfg, slog.Default())
	if h.Analyze(brandedImage(200, 150)).Watermarked {
		t.Error("thresholds not taken from config")
	}
}

// ============ 下载路径与 fail open ============

func TestIsWatermarkedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := png.Encode(&buf, brandedImage(200, 150)); err != nil {
			t.Fatalf("encode png: %v", err)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	h := New(testCfg(), slog.Default())
	if !h.IsWatermarked(context.Background(), srv.URL+"/photo.png") {
		t.Error("branded download not detected")
	}
}

func TestIsWatermarkedFailsOpen(t *testing.T) {
	h := New(testCfg(), slog.Default())

	t.Run("unreachable host", func(t *testing.T) {
		if h.IsWatermarked(context.Background(), "http://127.0.0.1:1/x.jpg") {
			t.Error("download failure must classify as not watermarked")
		}
	})

	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		if h.IsWatermarked(context.Background(), srv.URL+"/gone.jpg") {
			t.Error("404 must classify as not watermarked")
		}
	})

	t.Run("corrupt image", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("no soy una imagen"))
		}))
		defer srv.Close()
		if h.IsWatermarked(context.Background(), srv.URL+"/broken.jpg") {
			t.Error("decode failure must classify as not watermarked")
		}
	})
}
