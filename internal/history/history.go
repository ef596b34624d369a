// Package history lists every committed revision of a snapshot file.
package history

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazmat-radar/internal/model"
)

// ErrMissingRevisionContent marks a revision whose commit does not contain
// the requested path (the file was deleted). Such revisions are skipped.
var ErrMissingRevisionContent = eris.New("history: revision has no content for path")

// Reader lists the revisions of one repository-relative path, oldest first.
type Reader interface {
	ListRevisions(ctx context.Context, path string) ([]model.Revision, error)
}

// CleanPath normalizes a repository-relative path to forward slashes with
// no leading "./" or "/".
func CleanPath(p string) string {
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	return strings.TrimPrefix(strings.TrimPrefix(p, "./"), "/")
}

// StaticReader serves revisions from memory. Revisions are returned exactly
// as given, including ones with nil content.
type StaticReader struct {
	revisions map[string][]model.Revision
}

// NewStaticReader creates an empty StaticReader.
func NewStaticReader() *StaticReader {
	return &StaticReader{revisions: make(map[string][]model.Revision)}
}

// Add appends revisions for path. Callers add them oldest first.
func (s *StaticReader) Add(p string, revs ...model.Revision) *StaticReader {
	p = CleanPath(p)
	for _, r := range revs {
		if r.Path == "" {
			r.Path = p
		}
		s.revisions[p] = append(s.revisions[p], r)
	}
	return s
}

// ListRevisions returns a copy of the revisions registered for path.
func (s *StaticReader) ListRevisions(ctx context.Context, p string) ([]model.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "history: list revisions")
	}
	return slices.Clone(s.revisions[CleanPath(p)]), nil
}
