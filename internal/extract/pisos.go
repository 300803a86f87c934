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

type pisosExtractor struct{}

func newPisosExtractor() *pisosExtractor { return &pisosExtractor{} }

func (e *pisosExtractor) Portal() portal.Portal { return portal.Pisos }

func (e *pisosExtractor) ExtractList(res *fetch.PageResult) ([]*model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("pisos list %s: parse html: %w", res.RequestURL, err)
	}

	items := doc.Find("div.ad-preview")
	if items.Length() == 0 {
		return nil, fmt.Errorf("pisos list %s: no ad previews: %w", res.RequestURL, ErrExtractionMismatch)
	}

	var listings []*model.Listing
	items.Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("data-lnk-href")
		if href == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = "https://www.pisos.com" + href
		}

		externalID, _ := s.Attr("data-id")
		if externalID == "" {
			externalID = externalIDFromURL(href)
		}

		l := &model.Listing{
			Portal:     string(portal.Pisos),
			ExternalID: externalID,
			Title:      strings.TrimSpace(s.Find(".ad-preview__title").Text()),
			SourceURL:  href,
			Price:      ParsePrice(s.Find(".ad-preview__price").Text()),
			CapturedAt: time.Now(),
		}

		chars := s.Find(".ad-preview__char").Text()
		l.SurfaceM2 = ParseSurface(chars)
		l.RoomCount = ParseRooms(chars)

		if s.Find(".ad-preview__agency-logo").Length() > 0 {
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

func (e *pisosExtractor) ExtractDetail(res *fetch.PageResult) (*model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("pisos detail %s: parse html: %w", res.RequestURL, err)
	}

	title := strings.TrimSpace(doc.Find("h1.details__title").Text())
	if title == "" {
		return nil, fmt.Errorf("pisos detail %s: no title: %w", res.RequestURL, ErrExtractionMismatch)
	}

	l := &model.Listing{
		Portal:      string(portal.Pisos),
		ExternalID:  externalIDFromURL(res.FinalURL),
		Title:       title,
		Description: strings.TrimSpace(doc.Find(".description-container").Text()),
		SourceURL:   res.FinalURL,
		Price:       ParsePrice(doc.Find(".price__value").Text()),
		CapturedAt:  time.Now(),
	}

	features := doc.Find(".features__content").Text()
	l.SurfaceM2 = ParseSurface(features)
	l.RoomCount = ParseRooms(features)

	if tel, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
		l.Phone = NormalizePhone(strings.TrimPrefix(tel, "tel:"))
	}

	doc.Find(".gallery img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			l.PhotoURLs = append(l.PhotoURLs, src)
		}
	})

	if doc.Find(".owner-info__agency").Length() > 0 {
		l.SellerType = string(model.SellerAgency)
	} else {
		l.SellerType = string(ClassifySeller(l.Description + " " + doc.Find(".owner-info").Text()))
	}
	if l.ExternalID != "" {
		l.DedupHash = dedup.Hash(l.Portal, l.ExternalID)
	}
	return l, nil
}
