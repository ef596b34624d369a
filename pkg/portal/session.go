package portal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/resilience"
)

// Dashboard identifiers of the public incident report search page.
const (
	dashboardPage     = "Hazmat Incident Report"
	dashboardViewID   = "d:dashboard~p:kav0ge6phc5j2g2v~s:57jkpieh0769ioam~g:33ptcjsu3i8hrgkl"
	reportViewID      = "d:dashboard~p:kav0ge6phc5j2g2v~r:1hn2ls7a7d2j3j0e"
	expandedViewID    = "d:dashboard~p:kav0ge6phc5j2g2v~r:trg1arf44ggobm05"
	reportItemName    = "Incident Report All fields included in Form 5800"
	reportPath        = "/shared/Public Website Pages/HAZMAT Incidents/Incident Report All fields included in Form 5800"
	expandedPath      = "/shared/Public Website Pages/HAZMAT Incidents/Incident Detailed Report: All fields included in Form 5800"
	initialViewState  = "7m3hnikntaqp81992oti7ajp52"
	authFormSeparator = "---------------------------------------------------------"
)

// downloadParams is the form that starts an export.
type downloadParams map[string]string

func form(fields map[string]string) url.Values {
	v := make(url.Values, len(fields))
	for k, val := range fields {
		v.Set(k, val)
	}
	return v
}

func (s *session) initialize(ctx context.Context) error {
	portal := s.portalURL()
	initURL := s.c.cfg.InitURL + portal
	s.headers.Set("Original-Request", initURL)

	if _, err := s.get(ctx, "init", initURL); err != nil {
		return eris.Wrap(err, "portal: initialize")
	}
	if _, err := s.get(ctx, "portal", portal); err != nil {
		return eris.Wrap(err, "portal: initialize")
	}
	if _, err := s.do(ctx, "auth", http.MethodPost, s.c.cfg.AuthURL, authFormSeparator); err != nil {
		return eris.Wrap(err, "portal: authenticate")
	}
	if _, err := s.get(ctx, "portal", portal); err != nil {
		return eris.Wrap(err, "portal: initialize")
	}
	return nil
}

// query applies the date filter and returns the resulting view state and the
// parameters that download the default report.
func (s *session) query(ctx context.Context, q Query) (string, downloadParams, error) {
	filter, err := composeQuery(s.c.cfg.QueryTemplate, q.params())
	if err != nil {
		return "", nil, err
	}

	body, err := s.post(ctx, "query", s.c.cfg.BaseURL+"?ReloadDashboard", form(map[string]string{
		"ViewState":               initialViewState,
		"ClientStateXml":          s.c.cfg.ClientState,
		"fmapId":                  "noDEvw",
		"reloadTargets":           "all",
		"Page":                    dashboardPage,
		"IgnoreBypassCacheOption": "ignoreBypassCache",
		"PageDelayedState":        "NotDelayed",
		"PortalPath":              s.c.cfg.PortalPath,
		"Action":                  "ApplyFilter",
		"ViewID":                  dashboardViewID,
		"StateAction":             "samePageState",
		"P0":                      filter,
		"P1":                      "dashboard",
		"Caller":                  "PortalPages",
		"_scid":                   "",
		"icharset":                "utf-8",
	}))
	if err != nil {
		return "", nil, eris.Wrap(err, "portal: query")
	}

	viewState, clientState, err := extractState(body)
	if err != nil {
		return "", nil, eris.Wrap(err, "portal: query")
	}

	return viewState, downloadParams{
		"ViewID":          reportViewID,
		"Action":          "Download",
		"Style":           "Skyros",
		"ItemName":        reportItemName,
		"path":            reportPath,
		"Format":          "csv",
		"Extension":       ".csv",
		"bNotSaveCommand": "true",
		"clientStateXml":  clientState,
		"_scid":           "",
	}, nil
}

// expand switches the report to the detailed view with every column.
func (s *session) expand(ctx context.Context, viewState string) (string, downloadParams, error) {
	body, err := s.post(ctx, "expand", s.c.cfg.BaseURL+"?Go", form(map[string]string{
		"Path":        expandedPath,
		"Action":      "promptstart",
		"style":       "PHMSA",
		"Options":     "r",
		"ViewState":   viewState,
		"StateAction": "samePageState",
		"ViewID":      expandedViewID,
		"Done":        "Close",
		"_scid":       "",
	}))
	if err != nil {
		return "", nil, eris.Wrap(err, "portal: expand")
	}

	viewState, clientState, err := extractState(body)
	if err != nil {
		return "", nil, eris.Wrap(err, "portal: expand")
	}

	return viewState, downloadParams{
		"ViewID":          expandedViewID,
		"Action":          "Download",
		"Style":           "Skyros",
		"Options":         "rd",
		"ViewState":       viewState,
		"ItemName":        reportItemName,
		"path":            reportPath,
		"Format":          "csv",
		"Extension":       ".csv",
		"bNotSaveCommand": "true",
		"clientStateXml":  clientState,
		"_scid":           "",
	}, nil
}

func (s *session) download(ctx context.Context, params downloadParams, log *zap.Logger) ([]byte, error) {
	id := strconv.FormatInt(s.c.now().UnixMilli(), 10)
	base := s.c.cfg.BaseURL

	if _, err := s.post(ctx, "download-guard", base+"?DownloadGuard", form(map[string]string{
		"DownloadId": id, "_scid": "", "icharset": "utf-8",
	})); err != nil {
		return nil, eris.Wrap(err, "portal: set download guard")
	}
	if _, err := s.ready(ctx, id); err != nil {
		return nil, err
	}

	log.Debug("requesting download", zap.String("download_id", id))
	start := form(params)
	start.Set("DownloadId", id)
	if _, err := s.post(ctx, "download-start", base+"?Go", start); err != nil {
		return nil, eris.Wrap(err, "portal: start download")
	}

	for polls := 0; ; polls++ {
		done, err := s.ready(ctx, id)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		if polls >= s.c.cfg.MaxPolls {
			return nil, resilience.Retryable(resilience.CauseStalled, eris.Errorf("portal: download %s not ready after %d polls", id, polls))
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "portal: wait for download")
		case <-time.After(s.c.cfg.PollInterval):
		}
	}

	body, err := s.get(ctx, "download-file", base+"?downloadExportedFile&DownloadId="+id)
	if err != nil {
		return nil, eris.Wrap(err, "portal: download file")
	}
	return body, nil
}

func (s *session) ready(ctx context.Context, id string) (bool, error) {
	body, err := s.post(ctx, "download-status", s.c.cfg.BaseURL+"?DownloadStatus", form(map[string]string{
		"DownloadId": id, "Action": "GetStatus", "_scid": "", "icharset": "utf-8",
	}))
	if err != nil {
		return false, eris.Wrap(err, "portal: download status")
	}
	status, err := downloadStatus(body)
	if err != nil {
		return false, err
	}
	zap.L().Debug("download status", zap.String("component", "portal"), zap.String("status", status))
	return status == "done", nil
}
