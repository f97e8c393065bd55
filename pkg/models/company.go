// Package models defines the shared data structures exchanged between the
// data fetcher, the prompt builder, and the calling surfaces.
package models

import (
	"strconv"
	"time"
)

// CompanyRecord is the fixed-shape snapshot of a company handed to the
// prompt builder as grounding context. Optional fields are nil when the
// upstream source omits them. MarketCap and DividendYield are rendered to
// display strings at fetch time; an absent upstream value renders as zero
// for both, matching the upstream payload defaulting.
type CompanyRecord struct {
	Ticker          string   `json:"ticker"`
	CompanyName     *string  `json:"company_name"`
	Sector          *string  `json:"sector"`
	Industry        *string  `json:"industry"`
	MarketCap       string   `json:"market_cap"`
	PERatio         *float64 `json:"pe_ratio"`
	DividendYield   string   `json:"dividend_yield"`
	WeekHigh52      *float64 `json:"week_high_52"`
	WeekLow52       *float64 `json:"week_low_52"`
	BusinessSummary *string  `json:"business_summary"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Field is a single labelled value of a CompanyRecord's display form.
// Absent values carry the literal "null" so a record always serializes
// with its full field set.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Display returns the record's fields as an ordered label/value list.
// The same serialization feeds the grounding prompt and human output, so
// the order and labels are fixed.
func (r *CompanyRecord) Display() []Field {
	return []Field{
		{Label: "Company Name", Value: strValue(r.CompanyName)},
		{Label: "Sector", Value: strValue(r.Sector)},
		{Label: "Industry", Value: strValue(r.Industry)},
		{Label: "Market Cap", Value: r.MarketCap},
		{Label: "Price-to-Earnings (P/E) Ratio", Value: floatValue(r.PERatio)},
		{Label: "Dividend Yield", Value: r.DividendYield},
		{Label: "52 Week High", Value: floatValue(r.WeekHigh52)},
		{Label: "52 Week Low", Value: floatValue(r.WeekLow52)},
		{Label: "Business Summary", Value: strValue(r.BusinessSummary)},
	}
}

// HasName reports whether the upstream source supplied a company name.
// A successful fetch without one indicates a sparse payload.
func (r *CompanyRecord) HasName() bool {
	return r.CompanyName != nil && *r.CompanyName != ""
}

func strValue(s *string) string {
	if s == nil || *s == "" {
		return "null"
	}
	return *s
}

func floatValue(f *float64) string {
	if f == nil {
		return "null"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
