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

// fotocasa 把搜索结果和详情都塞在一个 JSON.parse 包裹的全局变量里，
// 结构化提取比解析渲染后的 DOM 稳定得多。
var fotocasaPropsRe = regexp.MustCompile(`window\.__INITIAL_PROPS__\s*=\s*JSON\.parse\(("(?:[^"\\]|\\.)*")\)`)

type fotocasaExtractor struct{}

func newFotocasaExtractor() *fotocasaExtractor { return &fotocasaExtractor{} }

func (e *fotocasaExtractor) Portal() portal.Portal { return portal.Fotocasa }

type fotocasaPayload struct {
	InitialSearch struct {
		Result struct {
			RealEstates []fotocasaAd `json:"realEstates"`
		} `json:"result"`
	} `json:"initialSearch"`
	RealEstateAd *fotocasaAd `json:"realEstateAd"`
}

type fotocasaAd struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       float64     `json:"price"`
	Features    []struct {
		Key   string  `json:"key"`
		Value float64 `json:"value"`
	} `json:"features"`
	Multimedia []struct {
		Src string `json:"src"`
	} `json:"multimedia"`
	Detail struct {
		Es string `json:"es"`
	} `json:"detail"`
	Advertiser struct {
		Name           string `json:"name"`
		IsProfessional *bool  `json:"isProfessional"`
		Phone          string `json:"phone"`
	} `json:"advertiser"`
}

func (e *fotocasaExtractor) ExtractList(res *fetch.PageResult) ([]*model.Listing, error) {
	payload, err := e.decode(res.Body)
	if err != nil {
		return nil, err
	}
	ads := payload.InitialSearch.Result.RealEstates
	if len(ads) == 0 {
		return nil, fmt.Errorf("fotocasa list %s: no realEstates in payload: %w", res.RequestURL, ErrExtractionMismatch)
	}

	listings := make([]*model.Listing, 0, len(ads))
	for i := range ads {
		l := e.toListing(&ads[i])
		if l.SellerType == string(model.SellerAgency) {
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (e *fotocasaExtractor) ExtractDetail(res *fetch.PageResult) (*model.Listing, error) {
	payload, err := e.decode(res.Body)
	if err != nil {
		return nil, err
	}
	if payload.RealEstateAd == nil {
		return nil, fmt.Errorf("fotocasa detail %s: no realEstateAd in payload: %w", res.RequestURL, ErrExtractionMismatch)
	}
	l := e.toListing(payload.RealEstateAd)
	if l.SourceURL == "" {
		l.SourceURL = res.FinalURL
	}
	if l.ExternalID == "" {
		l.ExternalID = externalIDFromURL(res.FinalURL)
	}
	return l, nil
}

// decode 找到 __INITIAL_PROPS__，先解开 JS 字符串转义再解析 JSON。
func (e *fotocasaExtractor) decode(body []byte) (*fotocasaPayload, error) {
	m := fotocasaPropsRe.FindSubmatch(body)
	if len(m) != 2 {
		return nil, fmt.Errorf("fotocasa: __INITIAL_PROPS__ not found: %w", ErrExtractionMismatch)
	}

	var raw string
	if err := json.Unmarshal(m[1], &raw); err != nil {
		return nil, fmt.Errorf("fotocasa: unescape payload: %w", err)
	}
	payload := &fotocasaPayload{}
	if err := json.Unmarshal([]byte(raw), payload); err != nil {
		return nil, fmt.Errorf("fotocasa: parse payload: %w", err)
	}
	return payload, nil
}

func (e *fotocasaExtractor) toListing(ad *fotocasaAd) *model.Listing {
	l := &model.Listing{
		Portal:      string(portal.Fotocasa),
		ExternalID:  ad.ID.String(),
		Title:       ad.Title,
		Description: ad.Description,
		Phone:       NormalizePhone(ad.Advertiser.Phone),
		CapturedAt:  time.Now(),
	}

	if ad.Price > 0 {
		price := int64(ad.Price)
		l.Price = &price
	}
	for _, f := range ad.Features {
		switch f.Key {
		case "surface":
			if f.Value > 0 {
				v := f.Value
				l.SurfaceM2 = &v
			}
		case "rooms":
			if f.Value > 0 {
				v := int(f.Value)
				l.RoomCount = &v
			}
		}
	}
	for _, m := range ad.Multimedia {
		if m.Src != "" {
			l.PhotoURLs = append(l.PhotoURLs, m.Src)
		}
	}

	// 广告主带显式专业标记时优先采信，否则回退到关键词计分
	if ad.Advertiser.IsProfessional != nil {
		if *ad.Advertiser.IsProfessional {
			l.SellerType = string(model.SellerAgency)
		} else {
			l.SellerType = string(model.SellerPrivate)
		}
	} else {
		l.SellerType = string(ClassifySeller(ad.Advertiser.Name + " " + ad.Description))
	}

	if ad.Detail.Es != "" {
		if strings.HasPrefix(ad.Detail.Es, "/") {
			l.SourceURL = "https://www.fotocasa.es" + ad.Detail.Es
		} else {
			l.SourceURL = ad.Detail.Es
		}
	}
	if l.ExternalID != "" {
		l.DedupHash = dedup.Hash(l.Portal, l.ExternalID)
	}
	return l
}
