package discovery

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/internal/model"
)

// ErrOutputWrite is returned when a discovery table cannot be written. The
// destination is left as it was.
var ErrOutputWrite = eris.New("discovery: output write failed")

// Layouts accepted when reading timestamps. Tables written by older
// tooling use Python's str(datetime) form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

func parseTimestamp(data []byte, t *time.Time) error {
	s := string(data)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = parsed.UTC()
			return nil
		}
	}
	return eris.Errorf("discovery: unrecognized timestamp %q", s)
}

// DecodeTable reads a discovery table (report_number,file,commit,timestamp).
func DecodeTable(r io.Reader) (*Table, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err == io.EOF {
		return NewTable(), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "discovery: read table header")
	}
	dec.WithUnmarshalers(csvutil.UnmarshalFunc(parseTimestamp))

	t := NewTable()
	for {
		var d model.Discovery
		if err := dec.Decode(&d); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrap(err, "discovery: decode table row")
		}
		t.Add(d)
	}
	return t, nil
}

// EncodeTable writes t with a header row, records in insertion order.
func EncodeTable(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	enc.AutoHeader = false
	if err := enc.EncodeHeader(model.Discovery{}); err != nil {
		return eris.Wrap(err, "discovery: encode header")
	}
	for _, d := range t.records {
		d.Timestamp = d.Timestamp.UTC()
		if err := enc.Encode(d); err != nil {
			return eris.Wrapf(err, "discovery: encode %s", d.ReportNumber)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "discovery: flush table")
}

// ReadTable reads the discovery table at path.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := DecodeTable(f)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read %s", path)
	}
	return t, nil
}

// WriteTable atomically replaces path with t. Failures wrap ErrOutputWrite.
func WriteTable(path string, t *Table) error {
	err := fetcher.WriteFileAtomic(path, func(w io.Writer) error {
		return EncodeTable(w, t)
	})
	if err != nil {
		return eris.Wrapf(ErrOutputWrite, "%s: %v", path, err)
	}
	return nil
}

// TablePaths returns the *.csv files in dir sorted by name, keeping only
// the last lastN when lastN > 0.
func TablePaths(dir string, lastN int) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: list %s", dir)
	}
	slices.Sort(paths)
	if lastN > 0 && len(paths) > lastN {
		paths = paths[len(paths)-lastN:]
	}
	return paths, nil
}

// ReadTables reads the last lastN monthly tables in dir, oldest first.
func ReadTables(dir string, lastN int) ([]*Table, error) {
	paths, err := TablePaths(dir, lastN)
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, 0, len(paths))
	for _, p := range paths {
		t, err := ReadTable(p)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}
