package model

import (
	"strings"
	"time"
)

// Key is the canonical report number of one incident (e.g. "PHM-12345").
type Key string

// Revision is one committed version of one snapshot file.
// A nil Content means the file did not exist at that revision.
type Revision struct {
	Path      string    `json:"path"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Content   []byte    `json:"-"`
}

// Missing reports whether the revision carries no content.
func (r Revision) Missing() bool {
	return r.Content == nil
}

// Column names of the portal export that the pipeline reads by name.
const (
	ColReportNumber        = "Report Number"
	ColIncidentDate        = "Date Of Incident"
	ColIncidentCity        = "Incident City"
	ColIncidentState       = "Incident State"
	ColReportType          = "Report Type"
	ColTransportMode       = "Mode Of Transportation"
	ColCarrierReporter     = "Carrier Reporter Name"
	ColHazmatFatalities    = "Total Hazmat Fatalities"
	ColHazmatInjuries      = "Total Hazmat Injuries"
	ColNonHazmatFatalities = "Non Hazmat Fatalities"
	ColDamagesTotal        = "Total Amount Of Damages"
	ColSeriousIndicator    = "Serious Incident Ind"
	ColDescription         = "Description Of Events"
)

// Incident is one row of a monthly snapshot. RawReportNumber holds the
// identifier column as exported (possibly anchor-wrapped). The other named
// fields are the columns downstream stages read; Fields keeps every column
// and Columns the header order.
type Incident struct {
	RawReportNumber string
	IncidentDate    string
	IncidentState   string
	DamagesTotal    string

	Fields  map[string]string
	Columns []string
}

// NewIncident builds an Incident from a header and a row. Columns past the
// end of a short row are absent; fields past the header are ignored.
// idCol is the header name of the identifier column.
func NewIncident(header, row []string, idCol string) Incident {
	fields := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(row) {
			fields[h] = row[i]
		}
	}
	return Incident{
		RawReportNumber: fields[idCol],
		IncidentDate:    fields[ColIncidentDate],
		IncidentState:   fields[ColIncidentState],
		DamagesTotal:    fields[ColDamagesTotal],
		Fields:          fields,
		Columns:         header,
	}
}

// Get returns the named column, or "" when the snapshot lacks it.
func (i Incident) Get(col string) string {
	return i.Fields[col]
}

// State returns the incident state abbreviation, upper-cased.
func (i Incident) State() string {
	return strings.ToUpper(strings.TrimSpace(i.IncidentState))
}

// Discovery is the first-seen metadata of one report number.
type Discovery struct {
	ReportNumber Key       `csv:"report_number" json:"report_number" db:"report_number"`
	File         string    `csv:"file" json:"file" db:"file"`
	Revision     string    `csv:"commit" json:"commit" db:"revision"`
	Timestamp    time.Time `csv:"timestamp" json:"timestamp" db:"discovered_at"`
}

// Earlier reports whether d was discovered strictly before o.
func (d Discovery) Earlier(o Discovery) bool {
	return d.Timestamp.Before(o.Timestamp)
}
