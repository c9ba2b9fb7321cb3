package model

import (
	"time"

	"fund_sheet_sync/internal/mapping"
)

// Frequency is how often a connection is synced.
type Frequency string

const (
	FreqOff        Frequency = "off"
	Freq5Minutes   Frequency = "5m"
	Freq15Minutes  Frequency = "15m"
	Freq30Minutes  Frequency = "30m"
	FreqHourly     Frequency = "1h"
	Freq6Hours     Frequency = "6h"
	FreqDaily      Frequency = "24h"
)

// Interval returns the wall-clock gap between syncs, or 0 for off or an
// unknown frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Freq5Minutes:
		return 5 * time.Minute
	case Freq15Minutes:
		return 15 * time.Minute
	case Freq30Minutes:
		return 30 * time.Minute
	case FreqHourly:
		return time.Hour
	case Freq6Hours:
		return 6 * time.Hour
	case FreqDaily:
		return 24 * time.Hour
	}
	return 0
}

// SyncStatus is the last-known state of a connection's sync.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

// Connection is one configured link between a fund and an external
// spreadsheet tab, including its mapping, schedule, and sync state.
// Tokens are stored encrypted and treated as opaque here; they are
// never written to logs.
type Connection struct {
	ID     string
	FundID string
	DealID string // optional owning deal

	SpreadsheetID string
	SheetName     string
	Mapping       []mapping.Entry
	Frequency     Frequency
	Enabled       bool

	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	AccountEmail   string

	Status       SyncStatus
	LastSyncedAt *time.Time
	LastRowCount int
	LastError    *string
	NextSyncAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Due reports whether the connection should be picked up by a tick at
// the given instant.
func (c *Connection) Due(now time.Time) bool {
	if !c.Enabled || c.Frequency == FreqOff || c.DeletedAt != nil {
		return false
	}
	return c.NextSyncAt == nil || !c.NextSyncAt.After(now)
}

// NextSyncTime computes the follow-up schedule slot, or nil when the
// connection is disabled or its frequency is off.
func (c *Connection) NextSyncTime(now time.Time) *time.Time {
	if !c.Enabled || c.Frequency == FreqOff {
		return nil
	}
	next := now.Add(c.Frequency.Interval())
	return &next
}

// KpiDataPoint is one persisted fact produced by a sync. The tuple
// (DealID, KpiCode, PeriodType, PeriodDate, DataType) is unique in
// storage; a repeat sync for the same period overwrites.
type KpiDataPoint struct {
	DealID     string
	KpiCode    string
	PeriodType string
	PeriodDate time.Time
	DataType   string
	Value      float64

	Source     string
	SourceRef  string // connection id
	ImportedAt time.Time
	UpdatedAt  time.Time
}
