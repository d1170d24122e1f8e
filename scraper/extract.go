package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-tap-menu/models"
	"github.com/aluiziolira/go-tap-menu/parser"
)

const (
	listContainerSelector = "ul.menu-section-list"
	listItemSelector      = "li"
)

func extractLinks(body []byte, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read listing html: %w", err)
	}

	containers := doc.Find(listContainerSelector)
	if containers.Length() == 0 {
		return nil, ErrStructure{URL: pageURL, Selector: listContainerSelector}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	links := make([]string, 0, containers.Find(listItemSelector).Length())
	seen := make(map[string]struct{})
	containers.Find(listItemSelector).Each(func(_ int, li *goquery.Selection) {
		href, ok := li.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		abs := resolve(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links, nil
}

func extractBeer(body []byte, pageURL string) (*models.Beer, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ErrParse{URL: pageURL, Err: err}
	}

	info := doc.Find("div.name").First()
	if info.Length() == 0 {
		return nil, ErrParse{URL: pageURL, Err: fmt.Errorf("missing name block")}
	}
	details := doc.Find("div.details").First()

	ratingRaw, ok := details.Find("div.caps").First().Attr("data-rating")
	if !ok {
		return nil, ErrParse{URL: pageURL, Err: fmt.Errorf("missing rating")}
	}
	rating, err := parser.ParseRating(ratingRaw)
	if err != nil {
		return nil, ErrParse{URL: pageURL, Err: err}
	}

	base, _ := url.Parse(pageURL)
	image := ""
	if src, ok := doc.Find("a.label img").First().Attr("src"); ok && base != nil {
		image = resolve(base, src)
	}

	beer := &models.Beer{
		Name:      parser.NormalizeText(info.Find("h1").First().Text()),
		Brewery:   parser.NormalizeText(info.Find("p.brewery a").First().Text()),
		Style:     parser.NormalizeText(info.Find("p.style").First().Text()),
		Rating:    rating,
		Ratings:   parser.NormalizeText(details.Find("p.raters").First().Text()),
		ABV:       parser.NormalizeABV(details.Find("p.abv").First().Text()),
		ImageURL:  image,
		URL:       pageURL,
		ScrapedAt: time.Now(),
	}
	if err := parser.ValidateBeer(beer); err != nil {
		return nil, ErrParse{URL: pageURL, Err: err}
	}
	return beer, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String()
}
