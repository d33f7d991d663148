package scrape

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Listing is one result card as it appears in the page, before price parsing.
type Listing struct {
	ExternalID string
	Title      string
	PriceText  string
	ImageURL   string
	Link       string
	Rating     float64
}

// layout lists fallback selectors per field. The first selector that matches
// wins, so markup drift on one marketplace only needs a new entry here.
type layout struct {
	cards  []string
	title  []string
	price  []string
	image  []string
	link   []string
	rating []string
	idAttr string
	idFrom *regexp.Regexp
	skip   func(title string) bool
}

var layouts = map[sourcing.Family]layout{
	sourcing.FamilyAmazon: {
		cards:  []string{`div[data-component-type="s-search-result"]`, `div.s-result-item[data-asin]`},
		title:  []string{"h2 a span", "h2 span", "h2"},
		price:  []string{".a-price .a-offscreen", ".a-price-whole", ".a-color-price"},
		image:  []string{"img.s-image", "img"},
		link:   []string{"h2 a", "a.a-link-normal"},
		rating: []string{".a-icon-alt", "[aria-label*='out of 5']"},
		idAttr: "data-asin",
		idFrom: regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
	},
	sourcing.FamilyEbay: {
		cards:  []string{"li.s-item", "div.s-item", "li.s-card"},
		title:  []string{".s-item__title", ".s-card__title", "h3"},
		price:  []string{".s-item__price", ".s-card__price", "[class*='price']"},
		image:  []string{".s-item__image-img", "img"},
		link:   []string{"a.s-item__link", "a[href*='/itm/']"},
		rating: []string{".x-star-rating .clipped", "[class*='reviews-star']"},
		idAttr: "data-listingid",
		idFrom: regexp.MustCompile(`/itm/(?:[^/]+/)?(\d+)`),
		skip: func(title string) bool {
			return strings.EqualFold(title, "Shop on eBay")
		},
	},
	sourcing.FamilyAliExpress: {
		cards:  []string{".search-item-card-wrapper-gallery", "div[class*='search-card-item']", "a[href*='/item/']"},
		title:  []string{"h3", "[class*='title']", "[title]"},
		price:  []string{"[class*='price-sale']", "[class*='price']"},
		image:  []string{"img[class*='product-img']", "img"},
		link:   []string{"a[href*='/item/']"},
		rating: []string{"[class*='evaluation']", "[class*='star']"},
		idAttr: "data-product-id",
		idFrom: regexp.MustCompile(`/item/(\d+)\.html`),
	},
}

// CardSelector returns a selector group matching any listing card layout
// known for the family, or "" for unknown families.
func CardSelector(family sourcing.Family) string {
	l, ok := layouts[family]
	if !ok {
		return ""
	}
	return strings.Join(l.cards, ", ")
}

var ratingPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Extract parses a search results page for the given family. pageURL is used
// to resolve relative links.
func Extract(family sourcing.Family, body []byte, pageURL string) ([]Listing, error) {
	l, ok := layouts[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sourcing.ErrUnknownFamily, family)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var cards *goquery.Selection
	for _, sel := range l.cards {
		if found := doc.Find(sel); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return nil, nil
	}

	listings := make([]Listing, 0, cards.Length())
	seen := make(map[string]struct{})
	cards.Each(func(_ int, card *goquery.Selection) {
		title := firstText(card, l.title)
		if title == "" {
			title, _ = card.Attr("title")
		}
		if title == "" || (l.skip != nil && l.skip(title)) {
			return
		}
		link := resolve(base, firstAttr(card, l.link, "href"))
		if link == "" && goquery.NodeName(card) == "a" {
			link = resolve(base, card.AttrOr("href", ""))
		}
		listing := Listing{
			Title:     title,
			PriceText: firstText(card, l.price),
			ImageURL:  resolve(base, imageSource(card, l.image)),
			Link:      link,
			Rating:    parseRating(firstText(card, l.rating)),
		}
		listing.ExternalID = externalID(card, l, link)
		if listing.ExternalID != "" {
			if _, dup := seen[listing.ExternalID]; dup {
				return
			}
			seen[listing.ExternalID] = struct{}{}
		}
		listings = append(listings, listing)
	})
	return listings, nil
}

func externalID(card *goquery.Selection, l layout, link string) string {
	if l.idAttr != "" {
		if v := strings.TrimSpace(card.AttrOr(l.idAttr, "")); v != "" {
			return v
		}
	}
	if l.idFrom != nil {
		if m := l.idFrom.FindStringSubmatch(link); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.Join(strings.Fields(s.Find(sel).First().Text()), " "); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(s *goquery.Selection, selectors []string, attr string) string {
	for _, sel := range selectors {
		if v, ok := s.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// imageSource prefers lazy-load attributes over placeholder src values.
func imageSource(s *goquery.Selection, selectors []string) string {
	for _, attr := range []string{"data-src", "src"} {
		if v := firstAttr(s, selectors, attr); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil || u.IsAbs() {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func parseRating(text string) float64 {
	m := ratingPattern.FindString(text)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil || v < 0 || v > 5 {
		return 0
	}
	return v
}
