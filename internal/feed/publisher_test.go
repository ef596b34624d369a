package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazmat-radar/internal/discovery"
	"github.com/sells-group/hazmat-radar/internal/model"
)

var testNow = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

const snapshotHeader = "\"Report Number\",\"Incident State\",\"Incident City\",\"Description Of Events\"\n"

type fixture struct {
	discovered string
	fetched    string
	out        string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		discovered: filepath.Join(root, "discovered-dates"),
		fetched:    filepath.Join(root, "fetched"),
		out:        filepath.Join(root, "feeds"),
	}
	require.NoError(t, os.MkdirAll(f.fetched, 0o755))

	require.NoError(t, discovery.WriteTable(filepath.Join(f.discovered, "2024-01.csv"), discovery.TableOf(
		model.Discovery{ReportNumber: "I-1", File: "2024-01.csv", Revision: "a", Timestamp: time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC)},
		model.Discovery{ReportNumber: "I-2", File: "2024-01.csv", Revision: "a", Timestamp: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
		model.Discovery{ReportNumber: "I-9", File: "2024-01.csv", Revision: "a", Timestamp: time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)},
	)))
	require.NoError(t, discovery.WriteTable(filepath.Join(f.discovered, "2024-02.csv"), discovery.TableOf(
		model.Discovery{ReportNumber: "I-1", File: "2024-02.csv", Revision: "b", Timestamp: time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)},
		model.Discovery{ReportNumber: "I-3", File: "2024-02.csv", Revision: "b", Timestamp: time.Date(2024, 2, 9, 6, 0, 0, 0, time.UTC)},
	)))

	require.NoError(t, os.WriteFile(filepath.Join(f.fetched, "2024-01.csv"), []byte(snapshotHeader+
		"\"<a href = https://example.gov/report?id=1>I-1</A>\",\"TX\",\"Houston\",\"Valve <leak> & spill\"\n"+
		"\"I-2\",\"CA\",\"Fresno\",\"old\"\n"+
		"\"junk\",\"TX\",\"Nowhere\",\"bad id\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.fetched, "2024-02.csv"), []byte(snapshotHeader+
		"\"I-1\",\"TX\",\"Houston\",\"duplicate row\"\n"+
		"\"I-3\",\"ca\",\"Fresno\",\"tank\"\n"), 0o644))
	return f
}

func (f fixture) load() LoadOptions {
	return LoadOptions{DiscoveredDir: f.discovered, SnapshotDir: f.fetched, NumMonths: 12, DiscoveredDays: 7}
}

func TestLoadEntries_JoinsRecentDiscoveries(t *testing.T) {
	f := newFixture(t)

	entries, err := LoadEntries(context.Background(), f.load(), testNow)
	require.NoError(t, err)
	require.Len(t, entries, 2, "I-2 is too old, I-9 has no snapshot row")

	assert.Equal(t, model.Key("I-1"), entries[0].ReportNumber())
	assert.Equal(t, "2024-01.csv", entries[0].Discovery.File, "earliest discovery wins across tables")
	assert.Equal(t, "https://example.gov/report?id=1", entries[0].Link)
	assert.Equal(t, "Valve <leak> & spill", entries[0].Incident.Get(model.ColDescription))

	assert.Equal(t, model.Key("I-3"), entries[1].ReportNumber())
	assert.Empty(t, entries[1].Link)
}

func TestLoadEntries_NumMonthsLimitsInputs(t *testing.T) {
	f := newFixture(t)
	opts := f.load()
	opts.NumMonths = 1

	entries, err := LoadEntries(context.Background(), opts, testNow)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2024-02.csv", entries[0].Discovery.File)
	assert.Equal(t, "duplicate row", entries[0].Incident.Get(model.ColDescription))
}

func TestPublish_WritesGlobalAndRegionalFeeds(t *testing.T) {
	f := newFixture(t)
	p := NewPublisher(Options{Load: f.load(), OutputDir: f.out}, nil)
	p.now = func() time.Time { return testNow }

	res, err := p.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Len(t, res.Files, 1+len(StateAbbrs))

	global := parse(t, filepath.Join(f.out, GlobalFile))
	assert.Equal(t, "Latest PHMSA Hazardous Materials Incident Reports", global.Title)
	assert.Equal(t, DefaultLink, global.Link)
	assert.Equal(t, "en", global.Language)
	require.Len(t, global.Items, 2)

	item := global.Items[0]
	assert.Equal(t, DefaultBaseID+":I-1", item.GUID)
	assert.Equal(t, "Report I-1", item.Title)
	assert.Equal(t, "https://example.gov/report?id=1", item.Link)
	assert.Contains(t, item.Content, "Valve &lt;leak&gt; &amp; spill")
	assert.Contains(t, item.Content, "City: Houston")
	require.NotNil(t, item.PublishedParsed)
	assert.True(t, item.PublishedParsed.Equal(time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC)))

	tx := parse(t, filepath.Join(f.out, RegionalDir, "recent-reports-tx.rss"))
	assert.Equal(t, "Latest PHMSA Hazardous Materials Incident Reports, for TX", tx.Title)
	require.Len(t, tx.Items, 1)
	assert.Equal(t, "Report I-1", tx.Items[0].Title)

	ca := parse(t, filepath.Join(f.out, RegionalDir, "recent-reports-ca.rss"))
	require.Len(t, ca.Items, 1)
	assert.Equal(t, "Report I-3", ca.Items[0].Title)

	wy := parse(t, filepath.Join(f.out, RegionalDir, "recent-reports-wy.rss"))
	assert.Empty(t, wy.Items)
}

func TestPublish_CustomRegions(t *testing.T) {
	f := newFixture(t)
	p := NewPublisher(Options{Load: f.load(), OutputDir: f.out, Regions: []string{"TX"}}, nil)
	p.now = func() time.Time { return testNow }

	res, err := p.Publish(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
}

func TestBuild_RegionalID(t *testing.T) {
	p := NewPublisher(Options{}, nil)
	f := p.Build(nil, "PR", testNow)
	assert.Equal(t, DefaultBaseID+":pr", f.Id)
	assert.Contains(t, f.Description, ", for PR")

	g := p.Build(nil, "", testNow)
	assert.Equal(t, DefaultBaseID, g.Id)
	assert.True(t, strings.HasSuffix(g.Description, "Administration."))
}

func TestVerify_RejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.rss")
	require.NoError(t, os.WriteFile(p, []byte("not a feed"), 0o644))

	err := Verify(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFeed))
}

func parse(t *testing.T, path string) *gofeed.Feed {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	feed, err := gofeed.NewParser().Parse(fh)
	require.NoError(t, err)
	return feed
}
