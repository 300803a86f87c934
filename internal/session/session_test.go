package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gilito11/casaTevaLeads-sub001/internal/extract"
	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/dedup"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// fakeFetcher 按 URL 返回预置页面。
type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*fetch.PageResult, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", url, fetch.ErrBlocked)
	}
	return &fetch.PageResult{RequestURL: url, FinalURL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) Close() error { return nil }

// memStore 收集 upsert 调用。
type memStore struct {
	listings []*model.Listing
	fail     bool
}

func (s *memStore) UpsertListing(_ context.Context, l *model.Listing) error {
	if s.fail {
		return fmt.Errorf("db unavailable")
	}
	s.listings = append(s.listings, l)
	return nil
}

func newTestDedup(t *testing.T) *dedup.Deduplicator {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return dedup.NewDeduplicator(rdb, time.Hour)
}

// habitacliaPage 生成一页带 n 条私人房源的列表 HTML，ID 从 base 起递增。
func habitacliaPage(n int, base int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		id := base + i
		fmt.Fprintf(&b, `<article class="js-list-item">
<a class="js-link-detail" href="/comprar-piso-barcelona-i%d.htm">Piso %d</a>
<span class="list-item-price">200.000 €</span>
<span class="list-item-feature">3 hab. 80 m²</span>
<p>Venta directa del propietario, tel 612 345 678</p>
</article>`, id, id)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func habitacliaProfile() portal.Profile {
	p, _ := portal.Lookup(portal.Habitaclia)
	return p
}

func habitacliaExtractor(t *testing.T) extract.Extractor {
	t.Helper()
	e, ok := extract.NewRegistry().Get(portal.Habitaclia)
	if !ok {
		t.Fatal("no habitaclia extractor")
	}
	return e
}

// ============ 正常流程 ============

func TestSessionStoresListings(t *testing.T) {
	p := habitacliaProfile()
	page1 := SearchURL(p, "barcelona", 1)
	page2 := SearchURL(p, "barcelona", 2)

	ff := &fakeFetcher{pages: map[string]string{
		page1: habitacliaPage(2, 712000001),
		page2: habitacliaPage(1, 712000003),
	}}
	// 第三页抓不到（fakeFetcher 默认返回 ErrBlocked），会话应正常收尾

	store := &memStore{}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), store, 5, 100, slog.Default())

	sum, err := s.Run(context.Background(), "barcelona")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.PagesFetched != 2 {
		t.Errorf("pages fetched = %d, want 2", sum.PagesFetched)
	}
	if sum.ItemsStored != 3 {
		t.Errorf("items stored = %d, want 3", sum.ItemsStored)
	}
	if len(store.listings) != 3 {
		t.Fatalf("stored = %d, want 3", len(store.listings))
	}
	for _, l := range store.listings {
		if l.Zone != "barcelona" {
			t.Errorf("listing zone = %q, want barcelona", l.Zone)
		}
		if l.SellerType != string(model.SellerPrivate) {
			t.Errorf("listing seller = %s, want private", l.SellerType)
		}
	}
	if sum.RunID == "" {
		t.Error("run id empty")
	}
}

func TestSessionSkipsDuplicates(t *testing.T) {
	p := habitacliaProfile()
	page1 := SearchURL(p, "barcelona", 1)

	ff := &fakeFetcher{pages: map[string]string{page1: habitacliaPage(2, 712000001)}}
	store := &memStore{}
	d := newTestDedup(t)
	s := New(p, ff, habitacliaExtractor(t), d, store, 1, 100, slog.Default())

	if _, err := s.Run(context.Background(), "barcelona"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sum, err := s.Run(context.Background(), "barcelona")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.ItemsDuped != 2 {
		t.Errorf("duplicates = %d, want 2", sum.ItemsDuped)
	}
	if sum.ItemsStored != 0 {
		t.Errorf("stored on rerun = %d, want 0", sum.ItemsStored)
	}
	if len(store.listings) != 2 {
		t.Errorf("total stored = %d, want 2", len(store.listings))
	}
}

// ============ 失败隔离 ============

func TestSessionBlockedFirstPage(t *testing.T) {
	p := habitacliaProfile()
	ff := &fakeFetcher{pages: map[string]string{}} // 全部拦截
	store := &memStore{}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), store, 3, 100, slog.Default())

	sum, err := s.Run(context.Background(), "barcelona")
	if err != nil {
		t.Fatalf("blocked session should not error: %v", err)
	}
	if sum.PagesBlocked != 1 {
		t.Errorf("pages blocked = %d, want 1 (no retries after block)", sum.PagesBlocked)
	}
	if len(ff.calls) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(ff.calls))
	}
}

func TestSessionStoreFailureIsolated(t *testing.T) {
	p := habitacliaProfile()
	page1 := SearchURL(p, "barcelona", 1)
	ff := &fakeFetcher{pages: map[string]string{page1: habitacliaPage(3, 712000001)}}
	store := &memStore{fail: true}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), store, 1, 100, slog.Default())

	sum, err := s.Run(context.Background(), "barcelona")
	if err != nil {
		t.Fatalf("per-item failures must not fail the run: %v", err)
	}
	if sum.ItemsFailed != 3 {
		t.Errorf("items failed = %d, want 3", sum.ItemsFailed)
	}
	if sum.ItemsStored != 0 {
		t.Errorf("items stored = %d, want 0", sum.ItemsStored)
	}
}

func TestSessionMismatchOnFirstPageIsFatal(t *testing.T) {
	p := habitacliaProfile()
	page1 := SearchURL(p, "barcelona", 1)
	ff := &fakeFetcher{pages: map[string]string{page1: "<html><body>maqueta nueva</body></html>"}}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), &memStore{}, 3, 100, slog.Default())

	if _, err := s.Run(context.Background(), "barcelona"); err == nil {
		t.Fatal("markup change on first page should surface an error")
	}
}

func TestSessionItemCap(t *testing.T) {
	p := habitacliaProfile()
	page1 := SearchURL(p, "barcelona", 1)
	ff := &fakeFetcher{pages: map[string]string{page1: habitacliaPage(5, 712000001)}}
	store := &memStore{}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), store, 3, 2, slog.Default())

	sum, err := s.Run(context.Background(), "barcelona")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ItemsSeen != 2 {
		t.Errorf("items seen = %d, want 2 (cap)", sum.ItemsSeen)
	}
	if len(store.listings) != 2 {
		t.Errorf("stored = %d, want 2", len(store.listings))
	}
}

// ============ 详情补全 ============

func TestSessionEnrichesPhoneFromDetail(t *testing.T) {
	p := habitacliaProfile()
	page1 := SearchURL(p, "barcelona", 1)
	detailURL := "https://www.habitaclia.com/comprar-piso-barcelona-i712000001.htm"

	detailHTML := `<html><body>
<h1 class="js-detail-title">Piso en Barcelona</h1>
<div id="js-detail-description">Venta directa del propietario.</div>
<a href="tel:+34 612 345 678">Llamar</a>
</body></html>`

	ff := &fakeFetcher{pages: map[string]string{
		page1:     habitacliaPage(1, 712000001),
		detailURL: detailHTML,
	}}
	store := &memStore{}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), store, 1, 100, slog.Default())

	if _, err := s.Run(context.Background(), "barcelona"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.listings) != 1 {
		t.Fatalf("stored = %d, want 1", len(store.listings))
	}
	if got := store.listings[0].Phone; got != "612345678" {
		t.Errorf("phone = %q, want 612345678 from detail page", got)
	}
}

// ============ 水印兜底 ============

type fakePhotoClassifier struct {
	watermarked bool
	urls        []string
}

func (f *fakePhotoClassifier) IsWatermarked(_ context.Context, url string) bool {
	f.urls = append(f.urls, url)
	return f.watermarked
}

// neutralListingPages 构造一条卖家类型判不出来的房源（列表 + 详情）。
func neutralListingPages(p portal.Profile) (listURL string, pages map[string]string) {
	listURL = SearchURL(p, "barcelona", 1)
	detailURL := "https://www.habitaclia.com/comprar-piso-barcelona-i712000009.htm"
	listHTML := `<html><body><article class="js-list-item">
<a class="js-link-detail" href="/comprar-piso-barcelona-i712000009.htm">Piso luminoso</a>
<span class="list-item-price">200.000 €</span>
</article></body></html>`
	detailHTML := `<html><body>
<h1 class="js-detail-title">Piso luminoso</h1>
<div id="js-detail-description">Piso luminoso en zona tranquila.</div>
<div class="js-gallery"><img src="https://img.habimg.com/712000009-1.jpg"></div>
</body></html>`
	return listURL, map[string]string{listURL: listHTML, detailURL: detailHTML}
}

func TestSessionDropsWatermarkedUnknownSeller(t *testing.T) {
	p := habitacliaProfile()
	_, pages := neutralListingPages(p)
	ff := &fakeFetcher{pages: pages}
	store := &memStore{}
	pc := &fakePhotoClassifier{watermarked: true}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), store, 1, 100, slog.Default()).
		WithPhotoClassifier(pc)

	sum, err := s.Run(context.Background(), "barcelona")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pc.urls) != 1 || pc.urls[0] != "https://img.habimg.com/712000009-1.jpg" {
		t.Fatalf("classifier calls = %v, want the lead photo", pc.urls)
	}
	if sum.ItemsStored != 0 || len(store.listings) != 0 {
		t.Errorf("watermarked unknown-seller listing should be dropped, stored %d", len(store.listings))
	}
}

func TestSessionKeepsUnbrandedUnknownSeller(t *testing.T) {
	p := habitacliaProfile()
	_, pages := neutralListingPages(p)
	ff := &fakeFetcher{pages: pages}
	store := &memStore{}
	s := New(p, ff, habitacliaExtractor(t), newTestDedup(t), store, 1, 100, slog.Default()).
		WithPhotoClassifier(&fakePhotoClassifier{watermarked: false})

	if _, err := s.Run(context.Background(), "barcelona"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.listings) != 1 {
		t.Fatalf("stored = %d, want 1", len(store.listings))
	}
	if got := store.listings[0].SellerType; got != string(model.SellerUnknown) {
		t.Errorf("seller = %s, want unknown kept as lead", got)
	}
}

// ============ URL 构造 ============

func TestSearchURL(t *testing.T) {
	tests := []struct {
		portal portal.Portal
		zone   string
		page   int
		want   string
	}{
		{portal.Fotocasa, "barcelona", 1, "https://www.fotocasa.es/es/comprar/viviendas/barcelona/todas-las-zonas/l"},
		{portal.Fotocasa, "barcelona", 3, "https://www.fotocasa.es/es/comprar/viviendas/barcelona/todas-las-zonas/l/3"},
		{portal.Habitaclia, "barcelona", 1, "https://www.habitaclia.com/viviendas-barcelona.htm"},
		{portal.Habitaclia, "barcelona", 2, "https://www.habitaclia.com/viviendas-barcelona-2.htm"},
		{portal.Idealista, "barcelona", 2, "https://www.idealista.com/venta-viviendas/barcelona/pagina-2.htm"},
		{portal.Milanuncios, "barcelona", 2, "https://www.milanuncios.com/venta-de-pisos-en-barcelona/?pagina=2"},
		{portal.Pisos, "barcelona", 2, "https://www.pisos.com/venta/pisos-barcelona/2/"},
		{portal.Pisos, "Sant Cugat", 1, "https://www.pisos.com/venta/pisos-sant-cugat/"},
	}
	for _, tt := range tests {
		p, _ := portal.Lookup(tt.portal)
		if got := SearchURL(p, tt.zone, tt.page); got != tt.want {
			t.Errorf("SearchURL(%s, %q, %d) = %s, want %s", tt.portal, tt.zone, tt.page, got, tt.want)
		}
	}
}
