package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// fullPage 构造一个超过 MinBodyBytes 的正常响应体。
func fullPage(title string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body>")
	for i := 0; i < 200; i++ {
		b.WriteString("<div class='re-CardPack'><h2>Piso en venta en Poblenou</h2><span>295.000 €</span></div>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestFetcher(t *testing.T, baseURL string) *ImpersonationFetcher {
	t.Helper()
	f, err := NewImpersonationFetcher(
		portal.Profile{ID: portal.Fotocasa, BaseURL: baseURL, Strategy: portal.StrategyImpersonation, Account: "anon"},
		config.FetchConfig{Timeout: 5 * time.Second, MinBodyBytes: 2048},
		"es-ES", nil, slog.Default())
	if err != nil {
		t.Fatalf("NewImpersonationFetcher: %v", err)
	}
	return f
}

// ============ warm-up 与请求头 ============

func TestImpersonationWarmUpBeforeContent(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Write([]byte(fullPage("Fotocasa")))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	defer f.Close()

	res, err := f.Fetch(context.Background(), srv.URL+"/es/comprar/viviendas/barcelona/l")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 {
		t.Fatalf("requests = %d, want 2 (warm-up + content)", len(paths))
	}
	if paths[0] != "/" {
		t.Errorf("first request path = %q, want / (homepage warm-up)", paths[0])
	}
	if paths[1] != "/es/comprar/viviendas/barcelona/l" {
		t.Errorf("second request path = %q", paths[1])
	}
}

func TestImpersonationWarmUpOnlyOnce(t *testing.T) {
	var mu sync.Mutex
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if r.URL.Path == "/" {
			count++
		}
		mu.Unlock()
		w.Write([]byte(fullPage("Fotocasa")))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	defer f.Close()

	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL+"/es/pagina"); err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("warm-up requests = %d, want 1", count)
	}
}

func TestImpersonationBrowserHeaders(t *testing.T) {
	var mu sync.Mutex
	var gotUA, gotLang, gotChUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		gotChUA = r.Header.Get("Sec-Ch-Ua")
		mu.Unlock()
		w.Write([]byte(fullPage("ok")))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	defer f.Close()

	if _, err := f.Fetch(context.Background(), srv.URL+"/es/detalle/1"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Errorf("User-Agent = %q, want browser-like", gotUA)
	}
	if gotUA != f.UserAgent() {
		t.Errorf("wire UA %q differs from session UA %q", gotUA, f.UserAgent())
	}
	if !strings.HasPrefix(gotLang, "es-ES") {
		t.Errorf("Accept-Language = %q, want es-ES prefix", gotLang)
	}
	if gotChUA == "" {
		t.Error("Sec-Ch-Ua header missing")
	}
}

func TestImpersonationCookiesSurviveSession(t *testing.T) {
	var mu sync.Mutex
	var contentCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc123", Path: "/"})
		} else {
			mu.Lock()
			if c, err := r.Cookie("session_id"); err == nil {
				contentCookie = c.Value
			}
			mu.Unlock()
		}
		w.Write([]byte(fullPage("ok")))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	defer f.Close()

	if _, err := f.Fetch(context.Background(), srv.URL+"/es/detalle/2"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if contentCookie != "abc123" {
		t.Errorf("cookie on content request = %q, want abc123 (set during warm-up)", contentCookie)
	}
}

// ============ 拦截判定 ============

func TestImpersonationBlockedStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"forbidden", http.StatusForbidden},
		{"rate limited", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/" {
					w.Write([]byte(fullPage("home")))
					return
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(fullPage("denied")))
			}))
			defer srv.Close()

			f := newTestFetcher(t, srv.URL)
			defer f.Close()

			_, err := f.Fetch(context.Background(), srv.URL+"/es/detalle/3")
			if !errors.Is(err, ErrBlocked) {
				t.Fatalf("err = %v, want ErrBlocked", err)
			}
		})
	}
}

func TestImpersonationSmallBodyIsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(fullPage("home")))
			return
		}
		// 200 但响应体远小于任何真实房源页
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	defer f.Close()

	_, err := f.Fetch(context.Background(), srv.URL+"/es/detalle/4")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked (suspicious small body)", err)
	}
}

func TestImpersonationChallengeBodyIsBlocked(t *testing.T) {
	var challenge strings.Builder
	challenge.WriteString(`<html><head><title>idealista</title></head><body>`)
	challenge.WriteString(`<iframe src="https://geo.captcha-delivery.com/captcha/?initialCid=x"></iframe>`)
	for i := 0; i < 100; i++ {
		challenge.WriteString("<div>padding para superar el umbral de tamaño mínimo del cuerpo</div>")
	}
	challenge.WriteString("</body></html>")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(fullPage("home")))
			return
		}
		w.Write([]byte(challenge.String()))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	defer f.Close()

	_, err := f.Fetch(context.Background(), srv.URL+"/es/detalle/5")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked (challenge markers)", err)
	}
}

func TestImpersonationWarmUpFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(fullPage("denied")))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	defer f.Close()

	_, err := f.Fetch(context.Background(), srv.URL+"/es/detalle/6")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked from warm-up", err)
	}
}
