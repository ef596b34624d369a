// Package snapshot decodes monthly incident exports and archives them to disk.
package snapshot

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/internal/model"
)

// ErrMalformedSnapshot is returned when a snapshot cannot be decoded as a
// header-having, fully-quoted CSV with an identifier column.
var ErrMalformedSnapshot = eris.New("snapshot: malformed snapshot")

// DecodeOptions configures Decode.
type DecodeOptions struct {
	// IDColumn is the header of the identifier column. Matched
	// case-insensitively with surrounding spaces ignored.
	IDColumn string
}

func (o DecodeOptions) idColumn() string {
	if o.IDColumn == "" {
		return model.ColReportNumber
	}
	return o.IDColumn
}

// Decode parses one snapshot revision into incidents. Empty content yields
// no rows. A row narrower than the header leaves the missing columns empty
// and fields beyond the header are dropped. Invalid encoding, bad quoting
// or a missing identifier column is reported as ErrMalformedSnapshot.
func Decode(ctx context.Context, content []byte, opts DecodeOptions) ([]model.Incident, error) {
	if !utf8.Valid(content) {
		return nil, eris.Wrap(ErrMalformedSnapshot, "content is not valid UTF-8")
	}

	r := transform.NewReader(bytes.NewReader(content), unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	header, rows, err := fetcher.ReadAllCSV(ctx, r, fetcher.CSVOptions{
		HasHeader:        true,
		TrimLeadingSpace: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "snapshot: decode")
		}
		return nil, eris.Wrapf(ErrMalformedSnapshot, "%v", err)
	}
	if header == nil {
		return nil, nil
	}

	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	idCol, ok := matchColumn(header, opts.idColumn())
	if !ok {
		return nil, eris.Wrapf(ErrMalformedSnapshot, "missing identifier column %q", opts.idColumn())
	}

	out := make([]model.Incident, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.NewIncident(header, row, idCol))
	}
	return out, nil
}

func matchColumn(header []string, want string) (string, bool) {
	want = strings.TrimSpace(want)
	for _, h := range header {
		if strings.EqualFold(h, want) {
			return h, true
		}
	}
	return "", false
}
