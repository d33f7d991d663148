package scrape

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

const amazonPage = `<html><body>
<div data-component-type="s-search-result" data-asin="B0TEST0001">
  <h2><a href="/Phone-X/dp/B0TEST0001"><span>Phone X   128GB</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$199.99</span></span>
  <img class="s-image" src="https://m.media-amazon.com/images/I/1.jpg">
  <span class="a-icon-alt">4.5 out of 5 stars</span>
</div>
<div data-component-type="s-search-result" data-asin="">
  <h2><a href="/Case/dp/B0TEST0002"><span>Phone Case</span></a></h2>
  <span class="a-price"><span class="a-offscreen">Currently unavailable</span></span>
</div>
<div data-component-type="s-search-result" data-asin="B0TEST0001">
  <h2><a href="/Phone-X/dp/B0TEST0001"><span>Phone X sponsored duplicate</span></a></h2>
</div>
</body></html>`

const ebayPage = `<html><body><ul>
<li class="s-item"><div class="s-item__title">Shop on eBay</div><span class="s-item__price">$20.00</span></li>
<li class="s-item">
  <a class="s-item__link" href="https://www.ebay.com/itm/1234567890?hash=x"><div class="s-item__title"><span>Used Phone</span></div></a>
  <span class="s-item__price">$10.00 to $15.00</span>
  <img class="s-item__image-img" src="data:image/gif;base64,xx" data-src="https://i.ebayimg.com/1.jpg">
</li>
</ul></body></html>`

const aliExpressPage = `<html><body>
<div class="search-item-card-wrapper-gallery">
  <a href="//www.aliexpress.com/item/1005001234567890.html">
    <img class="product-img" src="//ae01.alicdn.com/kf/1.jpg">
    <h3 class="multi--titleText">Wireless Earbuds</h3>
    <div class="multi--price-sale">US $3.45</div>
    <span class="multi--evaluation">4,8</span>
  </a>
</div>
</body></html>`

func TestExtractAmazon(t *testing.T) {
	t.Parallel()

	got, err := Extract(sourcing.FamilyAmazon, []byte(amazonPage), "https://www.amazon.com/s?k=phone")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, Listing{
		ExternalID: "B0TEST0001",
		Title:      "Phone X 128GB",
		PriceText:  "$199.99",
		ImageURL:   "https://m.media-amazon.com/images/I/1.jpg",
		Link:       "https://www.amazon.com/Phone-X/dp/B0TEST0001",
		Rating:     4.5,
	}, got[0])
	require.Equal(t, "B0TEST0002", got[1].ExternalID)
	require.Equal(t, "Currently unavailable", got[1].PriceText)
}

func TestExtractEbaySkipsPlaceholderCard(t *testing.T) {
	t.Parallel()

	got, err := Extract(sourcing.FamilyEbay, []byte(ebayPage), "https://www.ebay.com/sch/i.html?_nkw=phone")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1234567890", got[0].ExternalID)
	require.Equal(t, "Used Phone", got[0].Title)
	require.Equal(t, "https://i.ebayimg.com/1.jpg", got[0].ImageURL)
	require.Equal(t, "$10.00 to $15.00", got[0].PriceText)
}

func TestExtractAliExpress(t *testing.T) {
	t.Parallel()

	got, err := Extract(sourcing.FamilyAliExpress, []byte(aliExpressPage), "https://www.aliexpress.com/wholesale?SearchText=earbuds")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1005001234567890", got[0].ExternalID)
	require.Equal(t, "https://www.aliexpress.com/item/1005001234567890.html", got[0].Link)
	require.Equal(t, "https://ae01.alicdn.com/kf/1.jpg", got[0].ImageURL)
	require.Equal(t, "US $3.45", got[0].PriceText)
	require.InDelta(t, 4.8, got[0].Rating, 1e-9)
}

func TestExtractNoCards(t *testing.T) {
	t.Parallel()

	got, err := Extract(sourcing.FamilyAmazon, []byte(`<html><body><p>robot check</p></body></html>`), "")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExtractUnknownFamily(t *testing.T) {
	t.Parallel()

	_, err := Extract(sourcing.Family("Walmart"), []byte(amazonPage), "")
	require.ErrorIs(t, err, sourcing.ErrUnknownFamily)
}

func TestCardSelector(t *testing.T) {
	t.Parallel()

	require.Equal(t, `li.s-item, div.s-item, li.s-card`, CardSelector(sourcing.FamilyEbay))
	require.Empty(t, CardSelector(sourcing.Family("Walmart")))
}

func TestParseRating(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 4.5, parseRating("4.5 out of 5 stars"), 1e-9)
	require.InDelta(t, 3.0, parseRating("3"), 1e-9)
	require.Zero(t, parseRating("12 ratings"))
	require.Zero(t, parseRating(""))
}
