package feed

import (
	"bytes"
	"context"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/store"
)

// Defaults for the published feeds.
const (
	DefaultBaseID = "data-liberation-project:phma-hazmat-incident-reports"
	DefaultLink   = "https://github.com/data-liberation-project/phma-hazmat-incident-reports"
	DefaultAuthor = "Data Liberation Project"

	GlobalFile  = "recent-reports.rss"
	RegionalDir = "by-state"

	title    = "Latest PHMSA Hazardous Materials Incident Reports"
	subtitle = "The latest Form 5800.1 hazardous material reports submitted to the Department of Transportation and posted online by the Pipeline and Hazardous Materials Safety Administration"
)

// StateAbbrs are the US states and territories that get a regional feed.
var StateAbbrs = []string{
	"AL", "AK", "AS", "AZ", "AR", "CA", "CO", "CT", "DE", "DC",
	"FL", "GA", "GU", "HI", "ID", "IL", "IN", "IA", "KS", "KY",
	"LA", "ME", "MD", "MA", "MI", "MN", "MS", "MO", "MT", "NE",
	"NV", "NH", "NJ", "NM", "NY", "NC", "ND", "OH", "OK", "OR",
	"PA", "PR", "RI", "SC", "SD", "TN", "TX", "UT", "VT", "VA",
	"VI", "WA", "WV", "WI", "WY",
}

// ErrInvalidFeed is returned when a written feed does not parse back.
var ErrInvalidFeed = eris.New("feed: written feed is not valid RSS")

// Options configures a Publisher.
type Options struct {
	Load      LoadOptions
	OutputDir string
	BaseID    string
	Link      string
	Author    string
	Regions   []string
}

// Result summarizes a publish run.
type Result struct {
	Entries int      `json:"entries"`
	Files   []string `json:"files"`
}

// Publisher renders and writes the global and regional feeds.
type Publisher struct {
	opts   Options
	runLog store.RunLog
	now    func() time.Time
}

// NewPublisher creates a Publisher. runLog may be nil.
func NewPublisher(opts Options, runLog store.RunLog) *Publisher {
	if opts.BaseID == "" {
		opts.BaseID = DefaultBaseID
	}
	if opts.Link == "" {
		opts.Link = DefaultLink
	}
	if opts.Author == "" {
		opts.Author = DefaultAuthor
	}
	if opts.Regions == nil {
		opts.Regions = StateAbbrs
	}
	return &Publisher{opts: opts, runLog: runLog, now: time.Now}
}

// Publish loads recent entries and writes one global feed plus one feed per
// region. Every written file is parsed back before Publish returns.
func (p *Publisher) Publish(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("component", "feed"))

	runID := ""
	if p.runLog != nil {
		id, err := p.runLog.StartRun(ctx, model.StagePublish, "")
		if err != nil {
			return Result{}, eris.Wrap(err, "feed: start run")
		}
		runID = id
	}

	res, err := p.publish(ctx)
	if err != nil {
		if p.runLog != nil {
			if logErr := p.runLog.FailRun(context.WithoutCancel(ctx), runID, err.Error()); logErr != nil {
				log.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return res, err
	}

	if p.runLog != nil {
		if err := p.runLog.CompleteRun(ctx, runID, model.RunResult{Records: res.Entries}); err != nil {
			log.Error("failed to record run completion", zap.Error(err))
		}
	}
	log.Info("feeds published", zap.Int("entries", res.Entries), zap.Int("files", len(res.Files)))
	return res, nil
}

func (p *Publisher) publish(ctx context.Context) (Result, error) {
	now := p.now().UTC()
	entries, err := LoadEntries(ctx, p.opts.Load, now)
	if err != nil {
		return Result{}, err
	}
	res := Result{Entries: len(entries)}

	global := filepath.Join(p.opts.OutputDir, GlobalFile)
	if err := p.write(global, p.Build(entries, "", now)); err != nil {
		return res, err
	}
	res.Files = append(res.Files, global)

	for _, region := range p.opts.Regions {
		var regional []Entry
		for _, e := range entries {
			if e.Incident.State() == region {
				regional = append(regional, e)
			}
		}
		path := filepath.Join(p.opts.OutputDir, RegionalDir, "recent-reports-"+strings.ToLower(region)+".rss")
		if err := p.write(path, p.Build(regional, region, now)); err != nil {
			return res, err
		}
		res.Files = append(res.Files, path)
	}
	return res, nil
}

// Build assembles a feed. region is empty for the global feed.
func (p *Publisher) Build(entries []Entry, region string, now time.Time) *feeds.Feed {
	titleSuffix, subtitleSuffix, id := "", ".", p.opts.BaseID
	if region != "" {
		titleSuffix = ", for " + region
		subtitleSuffix = ", for " + region
		id = p.opts.BaseID + ":" + strings.ToLower(region)
	}

	f := &feeds.Feed{
		Id:          id,
		Title:       title + titleSuffix,
		Description: subtitle + subtitleSuffix,
		Link:        &feeds.Link{Href: p.opts.Link},
		Author:      &feeds.Author{Name: p.opts.Author},
		Updated:     now,
	}
	for _, e := range entries {
		f.Items = append(f.Items, p.item(e))
	}
	return f
}

func (p *Publisher) item(e Entry) *feeds.Item {
	report := string(e.ReportNumber())
	return &feeds.Item{
		Id:      p.opts.BaseID + ":" + report,
		Title:   "Report " + report,
		Created: e.Discovery.Timestamp,
		Link:    &feeds.Link{Href: e.Link},
		Content: renderContent(e),
	}
}

var contentTmpl = template.Must(template.New("entry").Parse(`
<h3><a href="{{.Link}}">Report {{.Report}}</a></h3>
<h4>Identified by scraper @ {{.Timestamp}}</h4>
<ul>
{{- range .Fields}}
<li>{{.Label}}: {{.Value}}</li>
{{- end}}
</ul>
`))

var contentFields = []struct{ Label, Column string }{
	{"Incident Date", model.ColIncidentDate},
	{"City", model.ColIncidentCity},
	{"State", model.ColIncidentState},
	{"Report Type", model.ColReportType},
	{"Mode Of Transportation", model.ColTransportMode},
	{"Carrier/Reporter", model.ColCarrierReporter},
	{"Hazmat Fatalities", model.ColHazmatFatalities},
	{"Hazmat Injuries", model.ColHazmatInjuries},
	{"Non-Hazmat Fatalities", model.ColNonHazmatFatalities},
	{"Total Amount Of Damages", model.ColDamagesTotal},
	{"Serious Incident Ind", model.ColSeriousIndicator},
	{"Description", model.ColDescription},
}

type contentField struct{ Label, Value string }

func renderContent(e Entry) string {
	data := struct {
		Link      string
		Report    string
		Timestamp string
		Fields    []contentField
	}{
		Link:      e.Link,
		Report:    string(e.ReportNumber()),
		Timestamp: e.Discovery.Timestamp.UTC().Format(time.RFC3339),
	}
	for _, f := range contentFields {
		data.Fields = append(data.Fields, contentField{Label: f.Label, Value: e.Incident.Get(f.Column)})
	}

	var buf bytes.Buffer
	if err := contentTmpl.Execute(&buf, data); err != nil {
		zap.L().Error("feed: render entry", zap.String("report_number", data.Report), zap.Error(err))
	}
	return buf.String()
}

func (p *Publisher) write(path string, f *feeds.Feed) error {
	rss := (&feeds.Rss{Feed: f}).RssFeed()
	rss.Language = "en"

	err := fetcher.WriteFileAtomic(path, func(w io.Writer) error {
		return feeds.WriteXML(rss, w)
	})
	if err != nil {
		return eris.Wrapf(err, "feed: write %s", path)
	}
	return Verify(path)
}

// Verify parses a written feed file.
func Verify(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "feed: open %s", path)
	}
	defer fh.Close() //nolint:errcheck

	parsed, err := gofeed.NewParser().Parse(fh)
	if err != nil {
		return eris.Wrapf(ErrInvalidFeed, "%s: %v", path, err)
	}
	if parsed.FeedType != "rss" {
		return eris.Wrapf(ErrInvalidFeed, "%s: feed type %q", path, parsed.FeedType)
	}
	return nil
}
