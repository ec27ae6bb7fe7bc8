package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// UnspecifiedOrganization is stored when a source gives no organization.
	UnspecifiedOrganization = "Non spécifié"

	MaxTitleLength  = 500
	MaxResumeLength = 500
	MaxTags         = 10
	MaxCategories   = 3
)

// RawRecord is what a source connector produces before normalization.
// Title, SourceURL and SourceID are required; everything else is optional
// and date fields are kept as unparsed text.
type RawRecord struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	SourceID  string `json:"source_id"`

	PublicationDateText string   `json:"publication_date_text,omitempty"`
	DeadlineText        string   `json:"deadline_text,omitempty"`
	OrganizationName    string   `json:"organization_name,omitempty"`
	OrganizationURL     string   `json:"organization_url,omitempty"`
	SummaryText         string   `json:"summary_text,omitempty"`
	DescriptionText     string   `json:"description_text,omitempty"`
	FreeTags            []string `json:"free_tags,omitempty"`
	TargetAudience      []string `json:"target_audience_texts,omitempty"`
	GeoScopeText        string   `json:"geo_scope_text,omitempty"`
	AmountMin           *float64 `json:"amount_min,omitempty"`
	AmountMax           *float64 `json:"amount_max,omitempty"`
	ApplicationURL      string   `json:"application_url,omitempty"`
	ContactEmail        string   `json:"contact_email,omitempty"`
	RawCategories       []string `json:"raw_categories,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

type SourceInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Organization struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// CanonicalRecord is the normalized call for projects. Dates carry no time
// component (midnight UTC). Lifecycle values (status, urgency, days
// remaining) are computed from an as-of date and never stored; the Status
// field only holds what was known at construction time. ClosedExplicitly
// marks a call withdrawn before its deadline and overrides the deadline.
type CanonicalRecord struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	SourceURL string     `json:"source_url"`
	Source    SourceInfo `json:"source"`

	PublicationDate *time.Time `json:"publication_date,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`

	Organization Organization `json:"organization"`

	Categories []Category `json:"categories"`
	Tags       []string   `json:"tags"`

	Eligibility    []EligibilityType `json:"eligibility"`
	TargetAudience []string          `json:"target_audience"`

	GeoScope GeoScope `json:"geo_scope,omitempty"`
	GeoLabel string   `json:"geo_label,omitempty"`

	AmountMin *float64 `json:"amount_min,omitempty"`
	AmountMax *float64 `json:"amount_max,omitempty"`

	Resume      string `json:"resume"`
	Description string `json:"description,omitempty"`

	ApplicationURL string `json:"application_url,omitempty"`
	ContactEmail   string `json:"contact_email,omitempty"`

	Status           Status `json:"status"`
	ClosedExplicitly bool   `json:"closed_explicitly,omitempty"`
}

// Fingerprint is the deduplication key of the record.
func (r CanonicalRecord) Fingerprint() string {
	return Fingerprint(r.Title, r.Organization.Name, r.Deadline)
}

// IsUnrestricted reports whether the record is open to every applicant type.
func (r CanonicalRecord) IsUnrestricted() bool {
	return len(r.Eligibility) == 0
}

func (r CanonicalRecord) HasCategory(c Category) bool {
	for _, v := range r.Categories {
		if v == c {
			return true
		}
	}
	return false
}

func (r CanonicalRecord) HasEligibility(e EligibilityType) bool {
	for _, v := range r.Eligibility {
		if v == e {
			return true
		}
	}
	return false
}

// Date truncates t to its calendar day, expressed as midnight UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr is Date for optional values.
func DatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := Date(*t)
	return &d
}

// FormatDate renders an optional date as YYYY-MM-DD, or "" when absent.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
