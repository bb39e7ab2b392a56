// Package vcs reads change statistics from a git working tree without
// shelling out to the git binary.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Rogers-F/turngov/internal/domain"
)

// FileStat is one line of a numstat listing.
type FileStat struct {
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Path    string `json:"path"`
}

// Repo is a diff provider over a git working tree.
type Repo struct {
	Dir string
}

// NewRepo returns a provider rooted at dir. The repository is opened on
// every call so the provider never holds stale index state.
func NewRepo(dir string) *Repo {
	return &Repo{Dir: dir}
}

func (r *Repo) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(r.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "open repository", err)
	}
	return repo, nil
}

// Numstat returns per-file added/removed line counts. When staged is true
// the index is compared against HEAD; otherwise the working tree is
// compared against the index.
func (r *Repo) Numstat(ctx context.Context, staged bool) ([]FileStat, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}
	if staged {
		return stagedNumstat(ctx, repo)
	}
	return worktreeNumstat(ctx, repo)
}

// ChangedFiles returns the sorted paths touched by Numstat.
func (r *Repo) ChangedFiles(ctx context.Context, staged bool) ([]string, error) {
	stats, err := r.Numstat(ctx, staged)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(stats))
	for _, s := range stats {
		files = append(files, s.Path)
	}
	return files, nil
}

func stagedNumstat(ctx context.Context, repo *git.Repository) ([]FileStat, error) {
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "read index", err)
	}
	headFiles, err := headTree(repo)
	if err != nil {
		return nil, err
	}

	var stats []FileStat
	seen := make(map[string]bool, len(idx.Entries))
	for _, entry := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[entry.Name] = true
		oldHash, existed := headFiles[entry.Name]
		if existed && oldHash == entry.Hash {
			continue
		}
		var oldText string
		if existed {
			if oldText, err = blobText(repo, oldHash); err != nil {
				return nil, err
			}
		}
		newText, err := blobText(repo, entry.Hash)
		if err != nil {
			return nil, err
		}
		stats = append(stats, countLines(entry.Name, oldText, newText))
	}
	for path, hash := range headFiles {
		if seen[path] {
			continue
		}
		oldText, err := blobText(repo, hash)
		if err != nil {
			return nil, err
		}
		stats = append(stats, countLines(path, oldText, ""))
	}
	sortStats(stats)
	return stats, nil
}

func worktreeNumstat(ctx context.Context, repo *git.Repository) ([]FileStat, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "open worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "worktree status", err)
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "read index", err)
	}

	var stats []FileStat
	for path, st := range status {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if st.Worktree == git.Unmodified || st.Worktree == git.Untracked {
			continue
		}
		var oldText string
		if entry, err := idx.Entry(path); err == nil {
			if oldText, err = blobText(repo, entry.Hash); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, index.ErrEntryNotFound) {
			return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "index entry", err)
		}
		var newText string
		if st.Worktree != git.Deleted {
			f, err := wt.Filesystem.Open(path)
			if err != nil {
				return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "open "+path, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "read "+path, err)
			}
			newText = string(data)
		}
		stats = append(stats, countLines(path, oldText, newText))
	}
	sortStats(stats)
	return stats, nil
}

// headTree maps every path in the HEAD commit to its blob hash. A
// repository without commits yields an empty map.
func headTree(repo *git.Repository) (map[string]plumbing.Hash, error) {
	files := make(map[string]plumbing.Hash)
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return files, nil
	}
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "resolve HEAD", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "load HEAD commit", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "load HEAD tree", err)
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		files[f.Name] = f.Hash
		return nil
	})
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "walk HEAD tree", err)
	}
	return files, nil
}

func blobText(repo *git.Repository, hash plumbing.Hash) (string, error) {
	blob, err := repo.BlobObject(hash)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrDiffUnavailable.Code, fmt.Sprintf("load blob %s", hash), err)
	}
	rd, err := blob.Reader()
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "open blob", err)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrDiffUnavailable.Code, "read blob", err)
	}
	return string(data), nil
}

func countLines(path, oldText, newText string) FileStat {
	stat := FileStat{Path: path}
	for _, d := range diff.Do(oldText, newText) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stat.Added += lineCount(d.Text)
		case diffmatchpatch.DiffDelete:
			stat.Removed += lineCount(d.Text)
		}
	}
	return stat
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func sortStats(stats []FileStat) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].Path < stats[j].Path })
}

// TotalAdded sums the added column.
func TotalAdded(stats []FileStat) int {
	total := 0
	for _, s := range stats {
		total += s.Added
	}
	return total
}
