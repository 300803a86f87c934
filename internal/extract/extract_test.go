package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

func pageResult(url string, body string) *fetch.PageResult {
	return &fetch.PageResult{
		RequestURL: url,
		FinalURL:   url,
		StatusCode: 200,
		Body:       []byte(body),
	}
}

// fotocasaListPage 构造带 __INITIAL_PROPS__ 负载的搜索结果页。
func fotocasaListPage(t *testing.T, payload any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	escaped, err := json.Marshal(string(raw))
	if err != nil {
		t.Fatalf("escape payload: %v", err)
	}
	return fmt.Sprintf(`<html><head></head><body>
<script>window.__INITIAL_PROPS__ = JSON.parse(%s);</script>
</body></html>`, escaped)
}

// ============ 注册表 ============

func TestRegistryCoversAllPortals(t *testing.T) {
	r := NewRegistry()
	for _, p := range portal.All() {
		e, ok := r.Get(p)
		if !ok {
			t.Errorf("no extractor registered for %s", p)
			continue
		}
		if e.Portal() != p {
			t.Errorf("extractor for %s reports portal %s", p, e.Portal())
		}
	}
	if _, ok := r.Get(portal.Portal("wallapop")); ok {
		t.Error("unknown portal should not resolve")
	}
}

// ============ fotocasa 结构化提取 ============

// 3 条广告（2 私人 1 中介）⇒ 过滤后恰好 2 条私人房源，电话已归一化。
func TestFotocasaListFiltersAgencies(t *testing.T) {
	isPro := true
	notPro := false
	payload := map[string]any{
		"initialSearch": map[string]any{
			"result": map[string]any{
				"realEstates": []map[string]any{
					{
						"id": 183920417, "title": "Piso en venta en Poblenou",
						"description": "Vende particular, reformado",
						"price":       295000.0,
						"features":    []map[string]any{{"key": "surface", "value": 85.0}, {"key": "rooms", "value": 3.0}},
						"multimedia":  []map[string]any{{"src": "https://static.fotocasa.es/images/1.jpg"}},
						"detail":      map[string]any{"es": "/es/comprar/vivienda/barcelona/poblenou/183920417"},
						"advertiser":  map[string]any{"name": "Particular", "isProfessional": &notPro, "phone": "+34 612 345 678"},
					},
					{
						"id": 183920418, "title": "Ático con terraza",
						"price":      450000.0,
						"detail":     map[string]any{"es": "/es/comprar/vivienda/barcelona/gracia/183920418"},
						"advertiser": map[string]any{"name": "Fincas Colón", "isProfessional": &isPro, "phone": "933 000 111"},
					},
					{
						"id": 183920419, "title": "Estudio céntrico",
						"description": "Propietario vende sin intermediarios",
						"price":       180000.0,
						"features":    []map[string]any{{"key": "surface", "value": 42.0}},
						"detail":      map[string]any{"es": "/es/comprar/vivienda/barcelona/raval/183920419"},
						"advertiser":  map[string]any{"name": "", "phone": "0034 678 901 234"},
					},
				},
			},
		},
	}

	e := newFotocasaExtractor()
	listings, err := e.ExtractList(pageResult("https://www.fotocasa.es/es/comprar/viviendas/barcelona/l", fotocasaListPage(t, payload)))
	if err != nil {
		t.Fatalf("ExtractList: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("listings = %d, want 2 after agency filtering", len(listings))
	}

	for _, l := range listings {
		if l.SellerType != string(model.SellerPrivate) {
			t.Errorf("listing %s seller = %s, want private", l.ExternalID, l.SellerType)
		}
		if l.Portal != string(portal.Fotocasa) {
			t.Errorf("listing portal = %s", l.Portal)
		}
		if l.DedupHash == "" {
			t.Errorf("listing %s missing dedup hash", l.ExternalID)
		}
	}

	first := listings[0]
	if first.ExternalID != "183920417" {
		t.Errorf("first external id = %s", first.ExternalID)
	}
	if first.Phone != "612345678" {
		t.Errorf("first phone = %q, want 612345678", first.Phone)
	}
	if first.Price == nil || *first.Price != 295000 {
		t.Errorf("first price = %v, want 295000", first.Price)
	}
	if first.SurfaceM2 == nil || *first.SurfaceM2 != 85 {
		t.Errorf("first surface = %v, want 85", first.SurfaceM2)
	}
	if first.RoomCount == nil || *first.RoomCount != 3 {
		t.Errorf("first rooms = %v, want 3", first.RoomCount)
	}
	if first.SourceURL != "https://www.fotocasa.es/es/comprar/vivienda/barcelona/poblenou/183920417" {
		t.Errorf("first source url = %s", first.SourceURL)
	}

	second := listings[1]
	if second.Phone != "678901234" {
		t.Errorf("second phone = %q, want 678901234 (0034 prefix stripped)", second.Phone)
	}
}

func TestFotocasaListMissingPayload(t *testing.T) {
	e := newFotocasaExtractor()
	_, err := e.ExtractList(pageResult("https://www.fotocasa.es/x", "<html><body><h1>Pisos</h1></body></html>"))
	if !errors.Is(err, ErrExtractionMismatch) {
		t.Fatalf("err = %v, want ErrExtractionMismatch", err)
	}
}

func TestFotocasaDetail(t *testing.T) {
	notPro := false
	payload := map[string]any{
		"realEstateAd": map[string]any{
			"id": 183920417, "title": "Piso en venta en Poblenou",
			"description": "Vende particular",
			"price":       295000.0,
			"features":    []map[string]any{{"key": "surface", "value": 85.0}, {"key": "rooms", "value": 3.0}},
			"advertiser":  map[string]any{"name": "Particular", "isProfessional": &notPro, "phone": "612345678"},
		},
	}
	e := newFotocasaExtractor()
	l, err := e.ExtractDetail(pageResult("https://www.fotocasa.es/es/comprar/vivienda/barcelona/poblenou/183920417", fotocasaListPage(t, payload)))
	if err != nil {
		t.Fatalf("ExtractDetail: %v", err)
	}
	if l.ExternalID != "183920417" {
		t.Errorf("external id = %s", l.ExternalID)
	}
	if l.SourceURL == "" {
		t.Error("source url empty, want fallback to final url")
	}
}

// ============ habitaclia 模式提取 ============

const habitacliaListHTML = `<html><body>
<article class="js-list-item">
  <a class="js-link-detail" href="/comprar-piso-gracia-barcelona-i712004512.htm">Piso en Gràcia</a>
  <span class="list-item-price">240.000 €</span>
  <span class="list-item-feature">3 hab. 78 m²</span>
  <p>Venta directa del propietario</p>
</article>
<article class="js-list-item">
  <a class="js-link-detail" href="/comprar-piso-eixample-barcelona-i712004513.htm">Piso en Eixample</a>
  <span class="list-item-price">390.000 €</span>
  <span class="list-item-feature">4 hab. 110 m²</span>
  <span class="list-item-agency-name">Fincas Eixample</span>
</article>
</body></html>`

func TestHabitacliaList(t *testing.T) {
	e := newHabitacliaExtractor()
	listings, err := e.ExtractList(pageResult("https://www.habitaclia.com/viviendas-barcelona.htm", habitacliaListHTML))
	if err != nil {
		t.Fatalf("ExtractList: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1 (agency card filtered)", len(listings))
	}

	l := listings[0]
	if l.ExternalID != "712004512" {
		t.Errorf("external id = %s, want 712004512", l.ExternalID)
	}
	if l.Price == nil || *l.Price != 240000 {
		t.Errorf("price = %v, want 240000", l.Price)
	}
	if l.SurfaceM2 == nil || *l.SurfaceM2 != 78 {
		t.Errorf("surface = %v, want 78", l.SurfaceM2)
	}
	if l.RoomCount == nil || *l.RoomCount != 3 {
		t.Errorf("rooms = %v, want 3", l.RoomCount)
	}
	if l.SellerType != string(model.SellerPrivate) {
		t.Errorf("seller = %s, want private", l.SellerType)
	}
	if l.SourceURL != "https://www.habitaclia.com/comprar-piso-gracia-barcelona-i712004512.htm" {
		t.Errorf("source url = %s", l.SourceURL)
	}
}

func TestHabitacliaDetail(t *testing.T) {
	html := `<html><body>
<h1 class="js-detail-title">Piso en venta en Gràcia</h1>
<span class="js-detail-price">240.000 €</span>
<div id="js-detail-description">Venta directa del propietario, sin comisiones.</div>
<ul id="js-feature-container"><li>78 m²</li><li>3 habitaciones</li></ul>
<a href="tel:+34612345678">Llamar</a>
<div class="js-gallery"><img src="https://img.habimg.com/1.jpg"></div>
</body></html>`

	e := newHabitacliaExtractor()
	l, err := e.ExtractDetail(pageResult("https://www.habitaclia.com/comprar-piso-gracia-barcelona-i712004512.htm", html))
	if err != nil {
		t.Fatalf("ExtractDetail: %v", err)
	}
	if l.Phone != "612345678" {
		t.Errorf("phone = %q, want 612345678", l.Phone)
	}
	if l.SellerType != string(model.SellerPrivate) {
		t.Errorf("seller = %s, want private", l.SellerType)
	}
	if len(l.PhotoURLs) != 1 {
		t.Errorf("photos = %d, want 1", len(l.PhotoURLs))
	}
}

func TestHabitacliaListMismatch(t *testing.T) {
	e := newHabitacliaExtractor()
	_, err := e.ExtractList(pageResult("https://www.habitaclia.com/x", "<html><body>nada</body></html>"))
	if !errors.Is(err, ErrExtractionMismatch) {
		t.Fatalf("err = %v, want ErrExtractionMismatch", err)
	}
}

// ============ milanuncios 结构化提取 ============

func TestMilanunciosList(t *testing.T) {
	state := map[string]any{
		"adList": map[string]any{
			"ads": []map[string]any{
				{
					"id": "987654321", "title": "Piso en Sants",
					"description":  "Vendo piso, soy particular",
					"price":        210000.0,
					"url":          "/venta-de-pisos-en-barcelona/piso-sants-987654321.htm",
					"phone":        "34 698 765 432",
					"professional": false,
					"attributes":   []map[string]any{{"label": "Superficie", "value": "65 m2"}, {"label": "Habitaciones", "value": "2 hab"}},
					"images":       []map[string]any{{"url": "https://img.milanuncios.com/1.jpg"}},
				},
				{
					"id": "987654322", "title": "Obra nueva Diagonal",
					"price":        520000.0,
					"url":          "/venta-de-pisos-en-barcelona/promo-987654322.htm",
					"professional": true,
				},
			},
		},
	}
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	html := fmt.Sprintf(`<html><body><script>window.__INITIAL_STATE__ = %s;</script></body></html>`, raw)

	e := newMilanunciosExtractor()
	listings, err := e.ExtractList(pageResult("https://www.milanuncios.com/venta-de-pisos-en-barcelona/", html))
	if err != nil {
		t.Fatalf("ExtractList: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1 (professional filtered)", len(listings))
	}

	l := listings[0]
	if l.Phone != "698765432" {
		t.Errorf("phone = %q, want 698765432", l.Phone)
	}
	if l.SurfaceM2 == nil || *l.SurfaceM2 != 65 {
		t.Errorf("surface = %v, want 65", l.SurfaceM2)
	}
	if l.RoomCount == nil || *l.RoomCount != 2 {
		t.Errorf("rooms = %v, want 2", l.RoomCount)
	}
	if l.SellerType != string(model.SellerPrivate) {
		t.Errorf("seller = %s, want private", l.SellerType)
	}
}

// ============ idealista / pisos 模式提取 ============

func TestIdealistaList(t *testing.T) {
	html := `<html><body>
<article class="item">
  <a class="item-link" href="/inmueble/108233041/">Piso en venta en calle de Provença</a>
  <span class="item-price">340.000€</span>
  <span class="item-detail">3 hab.</span>
  <span class="item-detail">92 m²</span>
  <p>Particular vende piso reformado</p>
</article>
<article class="item">
  <a class="item-link" href="/inmueble/108233042/">Ático en Sarrià</a>
  <span class="item-price">890.000€</span>
  <picture class="logo-branding"><img src="/agency.png"></picture>
</article>
</body></html>`

	e := newIdealistaExtractor()
	listings, err := e.ExtractList(pageResult("https://www.idealista.com/venta-viviendas/barcelona/eixample/", html))
	if err != nil {
		t.Fatalf("ExtractList: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1 (branded item filtered)", len(listings))
	}
	l := listings[0]
	if l.ExternalID != "108233041" {
		t.Errorf("external id = %s", l.ExternalID)
	}
	if l.Price == nil || *l.Price != 340000 {
		t.Errorf("price = %v, want 340000", l.Price)
	}
	if l.SurfaceM2 == nil || *l.SurfaceM2 != 92 {
		t.Errorf("surface = %v, want 92", l.SurfaceM2)
	}
}

func TestPisosList(t *testing.T) {
	html := `<html><body>
<div class="ad-preview" data-id="51234567" data-lnk-href="/comprar/piso-sant_marti51234567/">
  <span class="ad-preview__title">Piso en Sant Martí</span>
  <span class="ad-preview__price">265.000 €</span>
  <span class="ad-preview__char">80 m²</span>
  <span class="ad-preview__char">3 hab.</span>
  <p>Lo vende el propietario</p>
</div>
</body></html>`

	e := newPisosExtractor()
	listings, err := e.ExtractList(pageResult("https://www.pisos.com/venta/pisos-barcelona/", html))
	if err != nil {
		t.Fatalf("ExtractList: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.ExternalID != "51234567" {
		t.Errorf("external id = %s, want data-id value", l.ExternalID)
	}
	if l.SellerType != string(model.SellerPrivate) {
		t.Errorf("seller = %s, want private", l.SellerType)
	}
	if l.RoomCount == nil || *l.RoomCount != 3 {
		t.Errorf("rooms = %v, want 3", l.RoomCount)
	}
}
