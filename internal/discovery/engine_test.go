package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazmat-radar/internal/history"
	"github.com/sells-group/hazmat-radar/internal/identity"
	"github.com/sells-group/hazmat-radar/internal/model"
)

const jan = "data/fetched/2024-01.csv"

// snapshotCSV renders a fully quoted export with a BOM and the given identifiers.
func snapshotCSV(ids ...string) []byte {
	var b strings.Builder
	b.WriteString("\ufeff\"Report Number\",\"Incident State\"\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "%q, \"TX\"\n", id)
	}
	return []byte(b.String())
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func rev(p, id, when string, content []byte) model.Revision {
	return model.Revision{Path: p, ID: id, Timestamp: at(when), Content: content}
}

func TestFold_ConcreteScenario(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	revs := []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-1")),
		rev(jan, "B", "2024-01-20T00:00:00Z", snapshotCSV("PHM-1", "PHM-2")),
	}

	table, stats, err := e.Fold(context.Background(), revs)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	assert.Equal(t, []model.Discovery{
		{ReportNumber: "PHM-1", File: "2024-01.csv", Revision: "A", Timestamp: at("2024-01-05T00:00:00Z")},
		{ReportNumber: "PHM-2", File: "2024-01.csv", Revision: "B", Timestamp: at("2024-01-20T00:00:00Z")},
	}, table.Records())
	assert.Equal(t, Stats{Revisions: 2, Rows: 3, NewRecords: 2}, stats)
}

func TestFold_FirstWriteWinsAcrossPaths(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	revs := []model.Revision{
		rev(jan, "r1", "2024-01-10T00:00:00Z", snapshotCSV("PHM-9")),
		rev("data/fetched/2024-02.csv", "r2", "2024-02-03T00:00:00Z", snapshotCSV("PHM-9")),
	}

	table, _, err := e.Fold(context.Background(), revs)
	require.NoError(t, err)
	d, ok := table.Get("PHM-9")
	require.True(t, ok)
	assert.Equal(t, at("2024-01-10T00:00:00Z"), d.Timestamp)
	assert.Equal(t, "2024-01.csv", d.File)
}

func TestFold_TrustsCallerOrder(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	a := rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-1"))
	b := rev(jan, "B", "2024-01-20T00:00:00Z", snapshotCSV("PHM-1", "PHM-2"))

	ordered, _, err := e.Fold(context.Background(), []model.Revision{a, b})
	require.NoError(t, err)
	reversed, _, err := e.Fold(context.Background(), []model.Revision{b, a})
	require.NoError(t, err)

	got, _ := reversed.Get("PHM-1")
	assert.Equal(t, "B", got.Revision, "engine must not re-sort revisions")
	assert.NotEqual(t, ordered.Records(), reversed.Records())
}

func TestFold_Deterministic(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	revs := []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-3", "PHM-1")),
		rev(jan, "B", "2024-01-20T00:00:00Z", snapshotCSV("PHM-1", "PHM-2", "PHM-3")),
	}

	render := func() []byte {
		table, _, err := e.Fold(context.Background(), revs)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, EncodeTable(&buf, table))
		return buf.Bytes()
	}
	assert.Equal(t, render(), render())
}

func TestFold_MissingRevisionIsSameAsOmitted(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	a := rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-1"))
	gone := model.Revision{Path: jan, ID: "deleted", Timestamp: at("2024-01-06T00:00:00Z")}
	c := rev(jan, "C", "2024-01-07T00:00:00Z", snapshotCSV("PHM-1", "PHM-4"))

	with, stats, err := e.Fold(context.Background(), []model.Revision{a, gone, c})
	require.NoError(t, err)
	without, _, err := e.Fold(context.Background(), []model.Revision{a, c})
	require.NoError(t, err)

	assert.Equal(t, without.Records(), with.Records())
	assert.Equal(t, 1, stats.SkippedRevisions)
}

func TestFold_MalformedRevisionSkipped(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	revs := []model.Revision{
		rev(jan, "bad-quote", "2024-01-04T00:00:00Z", []byte("\"Report Number\"\n\"PHM-7\"x\"\n")),
		rev(jan, "no-id-col", "2024-01-05T00:00:00Z", []byte("\"Other\"\n\"PHM-8\"\n")),
		rev(jan, "bad-utf8", "2024-01-06T00:00:00Z", []byte{0xff, 0xfe, 'x'}),
		rev(jan, "good", "2024-01-07T00:00:00Z", snapshotCSV("PHM-7")),
	}

	table, stats, err := e.Fold(context.Background(), revs)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.SkippedRevisions)
	assert.Equal(t, 1, stats.Revisions)
	d, ok := table.Get("PHM-7")
	require.True(t, ok)
	assert.Equal(t, "good", d.Revision)
}

func TestFold_RaggedRowsKeepRevision(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	ragged := []byte("\"Report Number\",\"Incident State\"\n" +
		"\"PHM-1\",\"TX\"\n" +
		"\"PHM-2\"\n" +
		"\"PHM-3\",\"OK\",\"stray\"\n")
	revs := []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", ragged),
		rev(jan, "B", "2024-01-06T00:00:00Z", snapshotCSV("PHM-1", "PHM-2", "PHM-3")),
	}

	table, stats, err := e.Fold(context.Background(), revs)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SkippedRevisions)
	assert.Equal(t, 3, table.Len())
	for _, k := range []model.Key{"PHM-1", "PHM-2", "PHM-3"} {
		d, ok := table.Get(k)
		require.True(t, ok, k)
		assert.Equal(t, "A", d.Revision, k)
	}
}

func TestFold_UnparsableIdentifierSkipped(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	revs := []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("garbage", "<a href = http://x>PHM-5</A>")),
	}

	table, stats, err := e.Fold(context.Background(), revs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedRows)
	assert.Equal(t, 2, stats.Rows)
	assert.True(t, table.Has("PHM-5"))
}

func TestFold_StrictPolicyAborts(t *testing.T) {
	e := NewEngine(nil, EngineOptions{Policy: identity.PolicyStrict})
	revs := []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-1", "garbage")),
	}

	_, _, err := e.Fold(context.Background(), revs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, identity.ErrUnparsableIdentifier))
	assert.Contains(t, err.Error(), "A")
}

func TestFold_NormalizesEncodingsToOneKey(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	revs := []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("<a href = http://x>PHM-1</A>")),
		rev(jan, "B", "2024-01-06T00:00:00Z", snapshotCSV("PHM-1")),
	}

	table, stats, err := e.Fold(context.Background(), revs)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 1, stats.NewRecords)
}

func TestFoldInto_KeepsExistingRecords(t *testing.T) {
	e := NewEngine(nil, EngineOptions{})
	existing := TableOf(model.Discovery{
		ReportNumber: "PHM-1", File: "2024-01.csv", Revision: "old", Timestamp: at("2023-12-31T00:00:00Z"),
	})

	stats, err := e.FoldInto(context.Background(), existing, []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-1", "PHM-2")),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewRecords)

	d, _ := existing.Get("PHM-1")
	assert.Equal(t, "old", d.Revision)
	assert.Equal(t, []model.Key{"PHM-1", "PHM-2"}, keys(existing))
}

func TestDiscover_UsesReader(t *testing.T) {
	reader := history.NewStaticReader().Add(jan,
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-1")),
	)
	e := NewEngine(reader, EngineOptions{})

	table, stats, err := e.Discover(context.Background(), jan)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 1, stats.Revisions)
}

func TestDiscover_ReaderErrorPropagates(t *testing.T) {
	reader := new(mockReader)
	reader.On("ListRevisions", context.Background(), jan).Return(nil, errors.New("repository corrupt"))

	_, _, err := NewEngine(reader, EngineOptions{}).Discover(context.Background(), jan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository corrupt")
	reader.AssertExpectations(t)
}

func TestFold_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewEngine(nil, EngineOptions{}).Fold(ctx, []model.Revision{
		rev(jan, "A", "2024-01-05T00:00:00Z", snapshotCSV("PHM-1")),
	})
	require.Error(t, err)
}

func keys(t *Table) []model.Key {
	var out []model.Key
	for _, r := range t.Records() {
		out = append(out, r.ReportNumber)
	}
	return out
}
