package sourcing

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Family identifies one upstream marketplace.
type Family string

// Supported source families.
const (
	FamilyAmazon     Family = "Amazon"
	FamilyAliExpress Family = "AliExpress"
	FamilyEbay       Family = "eBay"
)

// GlobalToken is the claim name used when every family runs at once.
const GlobalToken = "Global"

// Families lists every family in dispatch order.
func Families() []Family {
	return []Family{FamilyAmazon, FamilyAliExpress, FamilyEbay}
}

// ParseFamily maps user input onto a Family, ignoring case.
func ParseFamily(raw string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "amazon":
		return FamilyAmazon, nil
	case "aliexpress":
		return FamilyAliExpress, nil
	case "ebay":
		return FamilyEbay, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFamily, raw)
}

// Source labels where a product came from. It is half of the dedup key.
type Source string

// Source labels persisted with each product.
const (
	SourceScrapedAmazon     Source = "ScrapedAmazon"
	SourceScrapedAliExpress Source = "ScrapedAliExpress"
	SourceScrapedEbay       Source = "ScrapedEbay"
	SourcePaidAmazon        Source = "PaidAmazon"
	SourcePaidAliExpress    Source = "PaidAliExpress"
	SourcePaidEbay          Source = "PaidEbay"
	SourceSynthetic         Source = "Synthetic"
)

// ScrapedSource returns the scrape label for a family.
func ScrapedSource(f Family) Source {
	switch f {
	case FamilyAmazon:
		return SourceScrapedAmazon
	case FamilyAliExpress:
		return SourceScrapedAliExpress
	default:
		return SourceScrapedEbay
	}
}

// PaidSource returns the paid API label for a family.
func PaidSource(f Family) Source {
	switch f {
	case FamilyAmazon:
		return SourcePaidAmazon
	case FamilyAliExpress:
		return SourcePaidAliExpress
	default:
		return SourcePaidEbay
	}
}

// CandidateProduct is an adapter result before normalization.
type CandidateProduct struct {
	Name        string
	Description string
	Price       float64
	Cost        float64
	ImageURL    string
	Images      []string
	Source      Source
	Family      Family
	ExternalID  string
	OriginLink  string
	Rating      float64
	Category    string
}

// Product is the canonical persisted record.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Cost        float64   `json:"cost"`
	Margin      float64   `json:"margin"`
	ImageURL    string    `json:"imageUrl"`
	Images      []string  `json:"images"`
	Source      Source    `json:"source"`
	Family      Family    `json:"family"`
	ExternalID  string    `json:"externalId"`
	OriginLink  string    `json:"originLink,omitempty"`
	Rating      float64   `json:"rating,omitempty"`
	Category    string    `json:"category"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// VolatileFields are the columns a re-import is allowed to refresh.
type VolatileFields struct {
	Price      float64
	Cost       float64
	ImageURL   string
	Images     []string
	OriginLink string
	Active     bool
	UpdatedAt  time.Time
}

// Volatile extracts the refreshable subset of p.
func (p Product) Volatile() VolatileFields {
	return VolatileFields{
		Price:      p.Price,
		Cost:       p.Cost,
		ImageURL:   p.ImageURL,
		Images:     append([]string(nil), p.Images...),
		OriginLink: p.OriginLink,
		Active:     p.Active,
		UpdatedAt:  p.UpdatedAt,
	}
}

// Apply overwrites the volatile columns of p with v.
func (p *Product) Apply(v VolatileFields) {
	p.Price = v.Price
	p.Cost = v.Cost
	p.ImageURL = v.ImageURL
	p.Images = append([]string(nil), v.Images...)
	p.OriginLink = v.OriginLink
	p.Active = v.Active
	p.UpdatedAt = v.UpdatedAt
}

// RunScope names what a run covers: a single family or the global token.
type RunScope string

// ScopeOf returns the scope for an optional family.
func ScopeOf(f *Family) RunScope {
	if f == nil {
		return RunScope(GlobalToken)
	}
	return RunScope(*f)
}

// RunRequest is the unit of work placed on the queue after a trigger is accepted.
type RunRequest struct {
	ID        string    `json:"id"`
	Family    *Family   `json:"family,omitempty"`
	Category  string    `json:"category,omitempty"`
	Submitted time.Time `json:"submitted"`
}

// Scope reports the claim the request holds.
func (r RunRequest) Scope() RunScope {
	return ScopeOf(r.Family)
}

// RunStatus represents the lifecycle state of a sourcing run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is the audit trail entry for one run.
type RunRecord struct {
	ID         string     `json:"id"`
	Scope      RunScope   `json:"scope"`
	Category   string     `json:"category"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	ErrorText  string     `json:"error,omitempty"`
}

// TriggerStatus is the acceptance outcome of a trigger.
type TriggerStatus string

// Trigger outcomes returned to callers.
const (
	TriggerSuccess TriggerStatus = "success"
	TriggerRunning TriggerStatus = "running"
	TriggerError   TriggerStatus = "error"
)

// TriggerResult is returned synchronously from a trigger.
type TriggerResult struct {
	Status  TriggerStatus `json:"status"`
	Message string        `json:"message"`
	RunID   string        `json:"runId,omitempty"`
}

// FetchRequest captures everything needed to fetch a search page.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
	// WaitSelector names the listing cards a rendering fetcher waits for
	// before it snapshots the page. Plain HTTP fetchers ignore it.
	WaitSelector string
}

// FetchResponse carries the raw page plus metadata.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
