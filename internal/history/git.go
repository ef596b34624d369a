package history

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/model"
)

// DefaultBranch is the branch walked when none is configured.
const DefaultBranch = "main"

// GitReader reads snapshot revisions from a git repository. It is safe for
// concurrent use; repository access is serialized since go-git storage is not.
type GitReader struct {
	mu     sync.Mutex
	repo   *git.Repository
	branch string
}

// NewGitReader wraps an opened repository. An empty branch means DefaultBranch.
func NewGitReader(repo *git.Repository, branch string) *GitReader {
	if branch == "" {
		branch = DefaultBranch
	}
	return &GitReader{repo: repo, branch: branch}
}

// OpenGitReader opens the repository containing dir, searching parent
// directories for the .git folder.
func OpenGitReader(dir, branch string) (*GitReader, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, eris.Wrapf(err, "history: open repository at %s", dir)
	}
	return NewGitReader(repo, branch), nil
}

// Root returns the repository work tree root, or "" for bare/in-memory repositories.
func (g *GitReader) Root() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	wt, err := g.repo.Worktree()
	if err != nil {
		return ""
	}
	return wt.Filesystem.Root()
}

func (g *GitReader) tip() (plumbing.Hash, error) {
	ref, err := g.repo.Reference(plumbing.NewBranchReferenceName(g.branch), true)
	if err == nil {
		return ref.Hash(), nil
	}
	head, headErr := g.repo.Head()
	if headErr != nil {
		return plumbing.ZeroHash, eris.Wrapf(err, "history: resolve branch %s", g.branch)
	}
	zap.L().Debug("branch not found, walking HEAD",
		zap.String("component", "history.git"),
		zap.String("branch", g.branch),
	)
	return head.Hash(), nil
}

// ListRevisions walks the commits touching path in committer-time order and
// returns one revision per commit, oldest first. Commits where the path is
// absent or its blob cannot be read are logged and skipped.
func (g *GitReader) ListRevisions(ctx context.Context, p string) ([]model.Revision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p = CleanPath(p)
	log := zap.L().With(zap.String("component", "history.git"), zap.String("path", p))

	from, err := g.tip()
	if err != nil {
		return nil, err
	}

	iter, err := g.repo.Log(&git.LogOptions{
		From:     from,
		FileName: &p,
		Order:    git.LogOrderCommitterTime,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "history: log %s", p)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "history: walk commits for %s", p)
	}
	slices.Reverse(commits)

	revs := make([]model.Revision, 0, len(commits))
	for _, c := range commits {
		content, err := blobAt(c, p)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, eris.Wrap(ctxErr, "history: read revisions")
			}
			msg := "skipping unreadable revision"
			if errors.Is(err, ErrMissingRevisionContent) {
				msg = "skipping revision without content"
			}
			log.Warn(msg, zap.String("revision", c.Hash.String()), zap.Error(err))
			continue
		}
		revs = append(revs, model.Revision{
			Path:      p,
			ID:        c.Hash.String(),
			Timestamp: c.Committer.When.UTC(),
			Content:   content,
		})
	}
	return revs, nil
}

func blobAt(c *object.Commit, p string) ([]byte, error) {
	f, err := c.File(p)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, eris.Wrapf(ErrMissingRevisionContent, "commit %s", c.Hash)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "history: resolve %s at %s", p, c.Hash)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, eris.Wrapf(err, "history: read %s at %s", p, c.Hash)
	}
	return []byte(contents), nil
}
