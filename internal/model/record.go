package model

import "time"

// GenerationRecord is one half-hourly generation observation for a single
// technology, as published by the Elexon BMRS actual-generation feed.
type GenerationRecord struct {
	PublishTime      time.Time `json:"publish_time"`
	BusinessType     string    `json:"business_type"`
	PSRType          string    `json:"psr_type"`
	Quantity         float64   `json:"quantity"`
	StartTime        time.Time `json:"start_time"`
	SettlementDate   string    `json:"settlement_date"`
	SettlementPeriod int       `json:"settlement_period"`

	// QuantityMissing marks records whose upstream quantity was null.
	// The stored quantity is 0 in that case.
	QuantityMissing bool `json:"quantity_missing,omitempty"`
}

// Key returns the identity of the record. A later import of the same key
// replaces the stored row in place.
func (r GenerationRecord) Key() RecordKey {
	return RecordKey{PSRType: r.PSRType, StartTime: r.StartTime}
}

// RecordKey uniquely identifies a stored generation record.
type RecordKey struct {
	PSRType   string    `json:"psr_type"`
	StartTime time.Time `json:"start_time"`
}

// Window is a half-open date range [Start, End) no longer than the upstream
// API's maximum request span.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the window span in whole days.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

func (w Window) String() string {
	return w.Start.Format("2006-01-02") + ".." + w.End.Format("2006-01-02")
}
