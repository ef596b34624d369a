// Package severity selects serious incidents from the archived snapshots.
package severity

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazmat-radar/internal/model"
)

// ErrInvalidDamages is returned when the damages column is not a whole number.
var ErrInvalidDamages = eris.New("severity: invalid damages amount")

// SeriousColumns are the Yes/No columns that flag an incident as serious.
var SeriousColumns = []string{
	model.ColSeriousIndicator,
	"Hmis Serious Bulk Release",
	"Hmis Serious Evacuations",
	"Hmis Serious Fatality",
	"Hmis Serious Flight Plan",
	"Hmis Serious Injury",
	"Hmis Serious Major Artery",
	"Hmis Serious Marine Pollutant",
	"Hmis Serious Radioactive",
}

// Serious reports whether any serious flag of inc is "Yes".
func Serious(inc model.Incident) bool {
	for _, col := range SeriousColumns {
		if inc.Get(col) == "Yes" {
			return true
		}
	}
	return false
}

// Damages parses the total damages of inc. A blank amount counts as zero.
func Damages(inc model.Incident) (int64, error) {
	raw := strings.TrimSpace(inc.Get(model.ColDamagesTotal))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
	if err != nil {
		return 0, eris.Wrapf(ErrInvalidDamages, "%q", raw)
	}
	return n, nil
}

// Filter keeps serious incidents whose damages reach CostMin.
type Filter struct {
	CostMin int64
}

// Keep reports whether inc passes the filter.
func (f Filter) Keep(inc model.Incident) (bool, error) {
	if !Serious(inc) {
		return false, nil
	}
	d, err := Damages(inc)
	if err != nil {
		return false, eris.Wrapf(err, "report %s", inc.RawReportNumber)
	}
	return d >= f.CostMin, nil
}

// Apply returns the incidents of in that pass the filter, in order.
func (f Filter) Apply(in []model.Incident) ([]model.Incident, error) {
	var out []model.Incident
	for _, inc := range in {
		ok, err := f.Keep(inc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, inc)
		}
	}
	return out, nil
}
