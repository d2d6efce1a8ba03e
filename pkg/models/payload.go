package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Payload is the sealed union of job inputs. The concrete type is selected by
// the same JobType that selects the workload profile, so a payload can never
// be submitted under the wrong type.
type Payload interface {
	JobType() JobType
	Validate() error
}

// MarketIntelScrapePayload configures a market-intelligence scrape run.
type MarketIntelScrapePayload struct {
	Regions      []string `json:"regions"`
	PropertyKind string   `json:"property_kind,omitempty"`
	MaxListings  int      `json:"max_listings,omitempty"`
}

func (MarketIntelScrapePayload) JobType() JobType { return JobTypeMarketIntelScrape }

func (p MarketIntelScrapePayload) Validate() error {
	if len(p.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	if p.MaxListings < 0 {
		return fmt.Errorf("max_listings must not be negative")
	}
	return nil
}

// NewsletterSendPayload identifies the campaign to dispatch.
type NewsletterSendPayload struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	SegmentIDs  []string  `json:"segment_ids,omitempty"`
	TestSend    bool      `json:"test_send,omitempty"`
	TestAddress string    `json:"test_address,omitempty"`
}

func (NewsletterSendPayload) JobType() JobType { return JobTypeNewsletterSend }

func (p NewsletterSendPayload) Validate() error {
	if p.CampaignID == uuid.Nil {
		return fmt.Errorf("campaign_id is required")
	}
	if p.TestSend && p.TestAddress == "" {
		return fmt.Errorf("test_address is required for a test send")
	}
	return nil
}

// PortalPublishXEPayload lists the properties to publish to the XE portal.
type PortalPublishXEPayload struct {
	PropertyIDs []uuid.UUID `json:"property_ids"`
	Unpublish   bool        `json:"unpublish,omitempty"`
}

func (PortalPublishXEPayload) JobType() JobType { return JobTypePortalPublishXE }

func (p PortalPublishXEPayload) Validate() error {
	if len(p.PropertyIDs) == 0 {
		return fmt.Errorf("at least one property_id is required")
	}
	return nil
}

// BulkExportPayload describes an export of CRM entities to a file.
type BulkExportPayload struct {
	Entity  string            `json:"entity"`
	Format  string            `json:"format"`
	Filters map[string]string `json:"filters,omitempty"`
}

func (BulkExportPayload) JobType() JobType { return JobTypeBulkExport }

func (p BulkExportPayload) Validate() error {
	if p.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	switch p.Format {
	case "csv", "xlsx", "json":
		return nil
	default:
		return fmt.Errorf("format must be csv, xlsx or json; got %q", p.Format)
	}
}

// DecodePayload parses and validates raw payload JSON against the shape
// declared for jobType. Unknown fields are rejected so a payload submitted
// under the wrong type fails loudly instead of half-parsing.
func DecodePayload(jobType JobType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch jobType {
	case JobTypeMarketIntelScrape:
		p = &MarketIntelScrapePayload{}
	case JobTypeNewsletterSend:
		p = &NewsletterSendPayload{}
	case JobTypePortalPublishXE:
		p = &PortalPublishXEPayload{}
	case JobTypeBulkExport:
		p = &BulkExportPayload{}
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	if err := strictUnmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("payload for %s: %w", jobType, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("payload for %s: %w", jobType, err)
	}
	return p, nil
}

// Result is the sealed union of successful job outputs, keyed by JobType like
// Payload. Results are stored as JSONB and only present on completed jobs.
type Result interface {
	JobType() JobType
}

// MarketIntelScrapeResult summarizes a scrape run.
type MarketIntelScrapeResult struct {
	ListingsFound int    `json:"listings_found"`
	ListingsNew   int    `json:"listings_new"`
	ReportURL     string `json:"report_url,omitempty"`
}

func (MarketIntelScrapeResult) JobType() JobType { return JobTypeMarketIntelScrape }

// NewsletterSendResult summarizes a campaign dispatch.
type NewsletterSendResult struct {
	Sent    int `json:"sent"`
	Bounced int `json:"bounced"`
	Skipped int `json:"skipped"`
}

func (NewsletterSendResult) JobType() JobType { return JobTypeNewsletterSend }

// PortalPublishXEResult summarizes a portal publish run.
type PortalPublishXEResult struct {
	Published int      `json:"published"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
}

func (PortalPublishXEResult) JobType() JobType { return JobTypePortalPublishXE }

// BulkExportResult points at the produced export file.
type BulkExportResult struct {
	RowCount    int    `json:"row_count"`
	FileURL     string `json:"file_url"`
	ContentType string `json:"content_type,omitempty"`
}

func (BulkExportResult) JobType() JobType { return JobTypeBulkExport }

// DecodeResult parses raw result JSON against the shape declared for jobType.
func DecodeResult(jobType JobType, raw json.RawMessage) (Result, error) {
	var r Result
	switch jobType {
	case JobTypeMarketIntelScrape:
		r = &MarketIntelScrapeResult{}
	case JobTypeNewsletterSend:
		r = &NewsletterSendResult{}
	case JobTypePortalPublishXE:
		r = &PortalPublishXEResult{}
	case JobTypeBulkExport:
		r = &BulkExportResult{}
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	if err := strictUnmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("result for %s: %w", jobType, err)
	}
	return r, nil
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty JSON body")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
