package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gilito11/casaTevaLeads-sub001/internal/fetch"
	"github.com/gilito11/casaTevaLeads-sub001/internal/model"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/dedup"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// idealista 走浏览器策略，解析的是渲染后的 DOM。
type idealistaExtractor struct{}

func newIdealistaExtractor() *idealistaExtractor { return &idealistaExtractor{} }

func (e *idealistaExtractor) Portal() portal.Portal { return portal.Idealista }

func (e *idealistaExtractor) ExtractList(res *fetch.PageResult) ([]*model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("idealista list %s: parse html: %w", res.RequestURL, err)
	}

	items := doc.Find("article.item")
	if items.Length() == 0 {
		return nil, fmt.Errorf("idealista list %s: no items: %w", res.RequestURL, ErrExtractionMismatch)
	}

	var listings []*model.Listing
	items.Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.item-link").First()
		href, _ := link.Attr("href")
		if href == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = "https://www.idealista.com" + href
		}

		l := &model.Listing{
			Portal:     string(portal.Idealista),
			ExternalID: externalIDFromURL(href),
			Title:      strings.TrimSpace(link.Text()),
			SourceURL:  href,
			Price:      ParsePrice(s.Find(".item-price").Text()),
			CapturedAt: time.Now(),
		}

		details := s.Find(".item-detail").Text()
		l.SurfaceM2 = ParseSurface(details)
		l.RoomCount = ParseRooms(details)

		// 中介条目在列表页带品牌 logo
		if s.Find(".logo-branding").Length() > 0 {
			l.SellerType = string(model.SellerAgency)
		} else {
			l.SellerType = string(ClassifySeller(s.Text()))
		}
		if l.SellerType == string(model.SellerAgency) {
			return
		}
		if l.ExternalID != "" {
			l.DedupHash = dedup.Hash(l.Portal, l.ExternalID)
		}
		listings = append(listings, l)
	})
	return listings, nil
}

func (e *idealistaExtractor) ExtractDetail(res *fetch.PageResult) (*model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("idealista detail %s: parse html: %w", res.RequestURL, err)
	}

	title := strings.TrimSpace(doc.Find(".main-info__title-main").Text())
	if title == "" {
		return nil, fmt.Errorf("idealista detail %s: no title: %w", res.RequestURL, ErrExtractionMismatch)
	}

	l := &model.Listing{
		Portal:      string(portal.Idealista),
		ExternalID:  externalIDFromURL(res.FinalURL),
		Title:       title,
		Description: strings.TrimSpace(doc.Find(".comment").Text()),
		SourceURL:   res.FinalURL,
		Price:       ParsePrice(doc.Find(".info-data-price").Text()),
		CapturedAt:  time.Now(),
	}

	details := doc.Find(".details-property").Text()
	l.SurfaceM2 = ParseSurface(details)
	l.RoomCount = ParseRooms(details)

	if tel, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
		l.Phone = NormalizePhone(strings.TrimPrefix(tel, "tel:"))
	}

	doc.Find(".detail-multimedia img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			l.PhotoURLs = append(l.PhotoURLs, src)
		}
	})

	sellerBlock := doc.Find(".professional-name, .advertiser-name-container").Text()
	if strings.Contains(strings.ToLower(sellerBlock), "particular") {
		l.SellerType = string(model.SellerPrivate)
	} else if strings.TrimSpace(sellerBlock) != "" {
		l.SellerType = string(model.SellerAgency)
	} else {
		l.SellerType = string(ClassifySeller(l.Description))
	}
	if l.ExternalID != "" {
		l.DedupHash = dedup.Hash(l.Portal, l.ExternalID)
	}
	return l, nil
}
