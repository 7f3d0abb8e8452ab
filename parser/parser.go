// Package parser isolates the listing markup and the naming rules applied
// to extracted items.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-policies/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PageParser turns a listing page body into item links and a continuation flag.
// Links are returned exactly as they appear in the markup.
type PageParser interface {
	Parse(body []byte) (*models.ListingPage, error)
}

// TileKind selects what a tile contributes.
type TileKind int

const (
	// TileLinks yields the detail-page link of each tile.
	TileLinks TileKind = iota
	// TileImages yields the image src of each tile, labelled with its alt text.
	TileImages
)

// TileParser locates item tiles and the "load more" button with CSS selectors.
type TileParser struct {
	Kind             TileKind
	TileSelector     string
	LinkSelector     string
	ImageSelector    string
	LoadMoreSelector string
}

// NewTileParser returns a parser for the BringFido travel listing.
func NewTileParser(kind TileKind) *TileParser {
	return &TileParser{
		Kind:             kind,
		TileSelector:     "div.logoTile",
		LinkSelector:     "a[href]",
		ImageSelector:    "amp-img, img",
		LoadMoreSelector: "a.resultsList__loadMore__btn",
	}
}

// Parse implements PageParser.
func (p *TileParser) Parse(body []byte) (*models.ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	page := &models.ListingPage{}
	tiles := doc.Find(p.TileSelector)
	page.Tiles = tiles.Length()

	tiles.Each(func(_ int, tile *goquery.Selection) {
		switch p.Kind {
		case TileImages:
			img := tile.Find(p.ImageSelector).First()
			src, _ := img.Attr("src")
			alt, _ := img.Attr("alt")
			src, alt = strings.TrimSpace(src), strings.TrimSpace(alt)
			if src != "" && alt != "" {
				page.Links = append(page.Links, models.Link{URL: src, Label: alt})
			}
		default:
			href, ok := tile.Find(p.LinkSelector).First().Attr("href")
			if href = strings.TrimSpace(href); ok && href != "" {
				page.Links = append(page.Links, models.Link{URL: href})
			}
		}
	})

	if href, ok := doc.Find(p.LoadMoreSelector).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		page.HasMore = true
	}
	return page, nil
}

// ResolveLink makes href absolute. Root-relative links get the origin of
// base, anything else relative is resolved against base itself.
func ResolveLink(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return base.Scheme + "://" + base.Host + href, nil
	}
	return base.ResolveReference(ref).String(), nil
}

// DeriveName builds a readable identifier from the last non-empty path
// segment of rawURL: "air_canada" becomes "Air Canada". It falls back to
// rawURL when no segment exists.
func DeriveName(rawURL string) string {
	segment := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		for _, part := range strings.Split(parsed.Path, "/") {
			if part != "" {
				segment = part
			}
		}
	}
	if segment == "" {
		return rawURL
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(segment, "_", " "))
}

// AssetFilename lower-cases label and replaces spaces with underscores.
func AssetFilename(label string) string {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
	return strings.ReplaceAll(name, "/", "_") + ".jpg"
}

// NormalizeField trims whitespace from an extracted text field.
func NormalizeField(text string) string {
	return strings.TrimSpace(text)
}

// ValidScheme reports whether rawURL is an absolute http(s) URL with a host.
func ValidScheme(rawURL string) bool {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return false
	}
	parsed, err := url.Parse(rawURL)
	return err == nil && parsed.Host != ""
}
