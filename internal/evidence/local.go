package evidence

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// Repo names one locally checked-out repository root.
type Repo struct {
	Name string
	Path string
}

var skippedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
}

// LocalAdapter searches plain checkouts on the local filesystem with a
// line scan. It needs no index and no network, which makes it the default
// backend and the fallback when indexed search is down.
type LocalAdapter struct {
	repos        map[string]Repo
	names        []string
	maxFileBytes int64
	logger       *slog.Logger
}

// NewLocalAdapter builds an adapter over the given repo roots. Roots that
// do not exist are logged and skipped so a partial checkout still works.
func NewLocalAdapter(repos []Repo, maxFileBytes int64, logger *slog.Logger) *LocalAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFileBytes <= 0 {
		maxFileBytes = 1 << 20
	}
	a := &LocalAdapter{
		repos:        make(map[string]Repo),
		maxFileBytes: maxFileBytes,
		logger:       logger,
	}
	for _, repo := range repos {
		if _, err := os.Stat(repo.Path); err != nil {
			logger.Warn("repo not found, skipping", slog.String("repo", repo.Name), slog.String("path", repo.Path))
			continue
		}
		a.repos[repo.Name] = repo
		a.names = append(a.names, repo.Name)
	}
	sort.Strings(a.names)
	return a
}

// Name identifies this backend in snippet provenance.
func (a *LocalAdapter) Name() string { return "local" }

// Repos lists the searchable repository names.
func (a *LocalAdapter) Repos() []string {
	return append([]string(nil), a.names...)
}

// Search scans the repo for lines containing query (case-insensitive) and
// returns up to limit matches in path order.
func (a *LocalAdapter) Search(ctx context.Context, repo, query string, limit int) ([]SearchMatch, error) {
	root, ok := a.repos[repo]
	if !ok {
		return nil, utils.NewAppError("evidence.search", fmt.Sprintf("unknown repo %q", repo), ErrNotFound)
	}
	if query == "" || limit <= 0 {
		return nil, nil
	}
	needle := strings.ToLower(query)

	var matches []SearchMatch
	err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if _, skip := skippedDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil || info.Size() > a.maxFileBytes {
			return nil
		}
		rel, err := filepath.Rel(root.Path, path)
		if err != nil {
			return nil
		}
		found, scanErr := scanFile(path, needle, limit-len(matches))
		if scanErr != nil {
			return nil
		}
		for _, m := range found {
			m.Path = filepath.ToSlash(rel)
			matches = append(matches, m)
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return matches, nil
}

func scanFile(path, needle string, limit int) ([]SearchMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []SearchMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 512*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if bytes.IndexByte(line, 0) >= 0 {
			return nil, nil // binary file
		}
		if strings.Contains(strings.ToLower(string(line)), needle) {
			matches = append(matches, SearchMatch{
				Line:    lineNo,
				Preview: strings.TrimSpace(string(line)),
			})
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, scanner.Err()
}

// ReadFile returns the full content of a file inside the repo. The ref
// argument is ignored: local checkouts only expose their current state.
func (a *LocalAdapter) ReadFile(_ context.Context, repo, path, _ string) (string, error) {
	root, ok := a.repos[repo]
	if !ok {
		return "", utils.NewAppError("evidence.read_file", fmt.Sprintf("unknown repo %q", repo), ErrNotFound)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", utils.NewAppError("evidence.read_file", fmt.Sprintf("path %q escapes repo", path), ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(root.Path, clean))
	if err != nil {
		return "", utils.NewAppError("evidence.read_file", fmt.Sprintf("%s in %s", path, repo), ErrNotFound)
	}
	return string(data), nil
}

// RecentCommits shells out to git log for the repo's latest commits.
func (a *LocalAdapter) RecentCommits(ctx context.Context, repo string, limit int) ([]Commit, error) {
	root, ok := a.repos[repo]
	if !ok {
		return nil, utils.NewAppError("evidence.commits", fmt.Sprintf("unknown repo %q", repo), ErrNotFound)
	}
	if limit <= 0 {
		limit = 3
	}

	cmd := exec.CommandContext(ctx, "git", "-C", root.Path, "log",
		fmt.Sprintf("-n%d", limit), "--pretty=format:%h%x09%an%x09%ad%x09%s", "--date=short")
	out, err := cmd.Output()
	if err != nil {
		a.logger.Warn("git log failed", slog.String("repo", repo), slog.Any("error", err))
		return nil, nil
	}

	var commits []Commit
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, Commit{SHA: parts[0], Author: parts[1], Date: parts[2], Message: parts[3]})
	}
	return commits, nil
}

// QueryMetric is unavailable on the local backend; the dispatcher turns
// this into the contractual "unavailable" stub payload.
func (a *LocalAdapter) QueryMetric(context.Context, string, map[string]any) (models.MetricSeries, error) {
	return models.MetricSeries{}, ErrUnavailable
}

// Window extracts the lines around line (1-based) with the given context
// radius, used to turn a search hit into a snippet excerpt.
func Window(content string, line, radius int) string {
	lines := strings.Split(content, "\n")
	if line < 1 {
		line = 1
	}
	start := line - 1 - radius
	if start < 0 {
		start = 0
	}
	end := line + radius
	if end > len(lines) {
		end = len(lines)
	}
	if start >= len(lines) {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}
