package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/dedup"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// milanuncios 把列表数据挂在 __INITIAL_STATE__ 上，裸 JSON 对象，
// 以分号结尾。详情页结构不稳定，详情补全也从同一负载取。
var milanunciosStateRe = regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.*?\});?\s*</script>`)

type milanunciosExtractor struct{}

func newMilanunciosExtractor() *milanunciosExtractor { return &milanunciosExtractor{} }

func (e *milanunciosExtractor) Portal() portal.Portal { return portal.Milanuncios }

type milanunciosState struct {
	AdList struct {
		Ads []milanunciosAd `json:"ads"`
	} `json:"adList"`
	AdDetail *milanunciosAd `json:"adDetail"`
}

type milanunciosAd struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	URL          string  `json:"url"`
	Phone        string  `json:"phone"`
	Professional bool    `json:"professional"`
	Attributes   []struct {
		Label string `json:"label"`
		Value string `json:"value"`
	} `json:"attributes"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (e *milanunciosExtractor) ExtractList(res *fetch.PageResult) ([]*model.Listing, error) {
	state, err := e.decode(res.Body)
	if err != nil {
		return nil, err
	}
	if len(state.AdList.Ads) == 0 {
		return nil, fmt.Errorf("milanuncios list %s: no ads in state: %w", res.RequestURL, ErrExtractionMismatch)
	}

	listings := make([]*model.Listing, 0, len(state.AdList.Ads))
	for i := range state.AdList.Ads {
		l := e.toListing(&state.AdList.Ads[i])
		if l.SellerType == string(model.SellerAgency) {
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (e *milanunciosExtractor) ExtractDetail(res *fetch.PageResult) (*model.Listing, error) {
	state, err := e.decode(res.Body)
	if err != nil {
		return nil, err
	}
	if state.AdDetail == nil {
		return nil, fmt.Errorf("milanuncios detail %s: no adDetail in state: %w", res.RequestURL, ErrExtractionMismatch)
	}
	l := e.toListing(state.AdDetail)
	if l.SourceURL == "" {
		l.SourceURL = res.FinalURL
	}
	if l.ExternalID == "" {
		l.ExternalID = externalIDFromURL(res.FinalURL)
	}
	return l, nil
}

func (e *milanunciosExtractor) decode(body []byte) (*milanunciosState, error) {
	m := milanunciosStateRe.FindSubmatch(body)
	if len(m) != 2 {
		return nil, fmt.Errorf("milanuncios: __INITIAL_STATE__ not found: %w", ErrExtractionMismatch)
	}
	state := &milanunciosState{}
	if err := json.Unmarshal(m[1], state); err != nil {
		return nil, fmt.Errorf("milanuncios: parse state: %w", err)
	}
	return state, nil
}

func (e *milanunciosExtractor) toListing(ad *milanunciosAd) *model.Listing {
	l := &model.Listing{
		Portal:      string(portal.Milanuncios),
		ExternalID:  ad.ID,
		Title:       ad.Title,
		Description: ad.Description,
		Phone:       NormalizePhone(ad.Phone),
		CapturedAt:  time.Now(),
	}

	if ad.Price > 0 {
		price := int64(ad.Price)
		l.Price = &price
	}
	for _, attr := range ad.Attributes {
		text := attr.Label + " " + attr.Value
		if l.SurfaceM2 == nil {
			l.SurfaceM2 = ParseSurface(text)
		}
		if l.RoomCount == nil {
			l.RoomCount = ParseRooms(text)
		}
	}
	for _, img := range ad.Images {
		if img.URL != "" {
			l.PhotoURLs = append(l.PhotoURLs, img.URL)
		}
	}

	if ad.Professional {
		l.SellerType = string(model.SellerAgency)
	} else {
		l.SellerType = string(ClassifySeller(ad.Description))
		if l.SellerType == string(model.SellerUnknown) {
			// 显式标记非专业卖家时按私人处理
			l.SellerType = string(model.SellerPrivate)
		}
	}

	if ad.URL != "" {
		if strings.HasPrefix(ad.URL, "/") {
			l.SourceURL = "https://www.milanuncios.com" + ad.URL
		} else {
			l.SourceURL = ad.URL
		}
	}
	if l.ExternalID != "" {
		l.DedupHash = dedup.Hash(l.Portal, l.ExternalID)
	}
	return l
}
