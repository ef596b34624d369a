package portal

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrViewStateMissing means a dashboard response carried no view state.
	ErrViewStateMissing = eris.New("portal: view state missing from response")
	// ErrClientStateMissing means a dashboard response carried no client state XML.
	ErrClientStateMissing = eris.New("portal: client state XML missing from response")
	// ErrStatusMissing means a download status response had no status attribute.
	ErrStatusMissing = eris.New("portal: download status missing from response")
	// ErrNoRows means the query matched no incidents.
	ErrNoRows = eris.New("portal: the query resulted in no rows")
	// ErrMissingQueryParam means the query template names a field the query does not supply.
	ErrMissingQueryParam = eris.New("portal: missing query parameter")
)

const noRowsBody = "The query resulted in no rows"

var (
	fieldPattern      = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	viewStatePattern  = regexp.MustCompile(`"viewState":"([^"]+)"`)
	envStatePattern   = regexp.MustCompile(`<sawst:envState xmlns.*?</sawst:envState>`)
	statusAttrPattern = regexp.MustCompile(`status="(.*?)"`)
)

// IsNoRows reports whether body is the portal's empty-result export.
func IsNoRows(body []byte) bool {
	body = bytes.TrimPrefix(body, []byte("\ufeff"))
	return string(bytes.TrimSpace(body)) == noRowsBody
}

// QueryFields returns the {placeholder} names of a query template in order
// of appearance, without duplicates.
func QueryFields(template string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range fieldPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// composeQuery fills the template's placeholders from params, looked up by
// lower-cased field name.
func composeQuery(template string, params map[string]string) (string, error) {
	out := template
	for _, field := range QueryFields(template) {
		val, ok := params[strings.ToLower(field)]
		if !ok {
			return "", eris.Wrapf(ErrMissingQueryParam, "field %q", field)
		}
		out = strings.ReplaceAll(out, "{"+field+"}", val)
	}
	return out, nil
}

// extractState pulls the view state and the JSON-escaped client state XML
// out of a dashboard response.
func extractState(body []byte) (viewState, clientState string, err error) {
	content := strings.ReplaceAll(string(body), `\u003c`, "<")

	m := viewStatePattern.FindStringSubmatch(content)
	if m == nil {
		return "", "", ErrViewStateMissing
	}
	viewState = m[1]

	raw := envStatePattern.FindString(content)
	if raw == "" {
		return "", "", ErrClientStateMissing
	}
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &clientState); err != nil {
		return "", "", eris.Wrapf(ErrClientStateMissing, "unescape client state: %v", err)
	}
	return viewState, clientState, nil
}

// downloadStatus returns the status attribute of a DownloadStatus response.
func downloadStatus(body []byte) (string, error) {
	m := statusAttrPattern.FindSubmatch(body)
	if m == nil {
		return "", ErrStatusMissing
	}
	return string(m[1]), nil
}
