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

// habitaclia 没有稳定的结构化负载，走 DOM 选择器提取。
type habitacliaExtractor struct{}

func newHabitacliaExtractor() *habitacliaExtractor { return &habitacliaExtractor{} }

func (e *habitacliaExtractor) Portal() portal.Portal { return portal.Habitaclia }

func (e *habitacliaExtractor) ExtractList(res *fetch.PageResult) ([]*model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("habitaclia list %s: parse html: %w", res.RequestURL, err)
	}

	items := doc.Find("article.js-list-item")
	if items.Length() == 0 {
		return nil, fmt.Errorf("habitaclia list %s: no list items: %w", res.RequestURL, ErrExtractionMismatch)
	}

	var listings []*model.Listing
	items.Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.js-link-detail").First()
		href, _ := link.Attr("href")
		if href == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = "https://www.habitaclia.com" + href
		}

		l := &model.Listing{
			Portal:     string(portal.Habitaclia),
			ExternalID: externalIDFromURL(href),
			Title:      strings.TrimSpace(link.Text()),
			SourceURL:  href,
			Price:      ParsePrice(s.Find(".list-item-price").Text()),
			CapturedAt: time.Now(),
		}

		features := s.Find(".list-item-feature").Text()
		l.SurfaceM2 = ParseSurface(features)
		l.RoomCount = ParseRooms(features)

		// 列表页带中介名牌的条目直接按中介处理
		if s.Find(".list-item-agency-name").Length() > 0 {
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

func (e *habitacliaExtractor) ExtractDetail(res *fetch.PageResult) (*model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("habitaclia detail %s: parse html: %w", res.RequestURL, err)
	}

	title := strings.TrimSpace(doc.Find("h1.js-detail-title").Text())
	if title == "" {
		return nil, fmt.Errorf("habitaclia detail %s: no title: %w", res.RequestURL, ErrExtractionMismatch)
	}

	l := &model.Listing{
		Portal:      string(portal.Habitaclia),
		ExternalID:  externalIDFromURL(res.FinalURL),
		Title:       title,
		Description: strings.TrimSpace(doc.Find("#js-detail-description").Text()),
		SourceURL:   res.FinalURL,
		Price:       ParsePrice(doc.Find(".js-detail-price").Text()),
		CapturedAt:  time.Now(),
	}

	features := doc.Find("#js-feature-container").Text()
	l.SurfaceM2 = ParseSurface(features)
	l.RoomCount = ParseRooms(features)

	if tel, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
		l.Phone = NormalizePhone(strings.TrimPrefix(tel, "tel:"))
	}

	doc.Find(".js-gallery img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			l.PhotoURLs = append(l.PhotoURLs, src)
		}
	})

	if doc.Find(".js-agency-card").Length() > 0 {
		l.SellerType = string(model.SellerAgency)
	} else {
		l.SellerType = string(ClassifySeller(doc.Find("#js-detail-description, .js-seller-info").Text()))
	}
	if l.ExternalID != "" {
		l.DedupHash = dedup.Hash(l.Portal, l.ExternalID)
	}
	return l, nil
}
