package pricing

import (
	"strings"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Normalize converts a candidate into the canonical product shape. It assigns
// the run category unless the adapter supplied one, defaults the image list to
// the primary image and computes margin. Identity and timestamps are left for
// the upsert engine.
func Normalize(c sourcing.CandidateProduct, category string) sourcing.Product {
	price := nonNegative(c.Price)
	cost := nonNegative(c.Cost)
	images := compact(c.Images)
	if len(images) == 0 && c.ImageURL != "" {
		images = []string{c.ImageURL}
	}
	imageURL := c.ImageURL
	if imageURL == "" && len(images) > 0 {
		imageURL = images[0]
	}
	cat := strings.TrimSpace(c.Category)
	if cat == "" {
		cat = category
	}
	return sourcing.Product{
		Name:        strings.TrimSpace(c.Name),
		Description: strings.TrimSpace(c.Description),
		Price:       price,
		Cost:        cost,
		Margin:      Margin(price, cost),
		ImageURL:    imageURL,
		Images:      images,
		Source:      c.Source,
		Family:      c.Family,
		ExternalID:  strings.TrimSpace(c.ExternalID),
		OriginLink:  c.OriginLink,
		Rating:      c.Rating,
		Category:    cat,
		Active:      true,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
