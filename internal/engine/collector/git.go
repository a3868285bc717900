package collector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/core/ports"
	"ossmatch/internal/data/records"
	"ossmatch/internal/shared/observability"
	"ossmatch/internal/shared/util"
)

var _ ports.RepoFetcher = (*GitFetcher)(nil)

type GitOptions struct {
	GitPath string
	Retries int
	// Rate and Burst bound network operations per repository host.
	Rate    float64
	Burst   int
	Timeout time.Duration
	// MaxVersions keeps only the most recent tags when positive.
	MaxVersions int
	Backoff     time.Duration
}

// GitFetcher implements RepoFetcher with the git command line client.
type GitFetcher struct {
	opts     GitOptions
	limiters *util.LimiterRegistry
}

func NewGitFetcher(opts GitOptions) *GitFetcher {
	if opts.GitPath == "" {
		opts.GitPath = "git"
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &GitFetcher{
		opts:     opts,
		limiters: util.NewLimiterRegistry(opts.Rate, opts.Burst, time.Hour),
	}
}

// Available reports whether the configured git binary can be found.
func (g *GitFetcher) Available() error {
	if _, err := exec.LookPath(g.opts.GitPath); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeConfig, fmt.Sprintf("git binary %q not found", g.opts.GitPath))
	}
	return nil
}

func (g *GitFetcher) Acquire(ctx context.Context, repoURL, dir string) error {
	limiter := g.limiters.Get(repoHost(repoURL))
	cloned := util.FileExists(filepath.Join(dir, ".git", "HEAD"))

	attempt := 0
	err := util.RetryErrWithContext(ctx, g.opts.Retries+1, g.opts.Backoff, coreerrors.IsSoft, func(ctx context.Context) error {
		if attempt++; attempt > 1 {
			observability.GitRetriesTotal.Inc()
		}
		if err := limiter.Wait(ctx, 1); err != nil {
			return err
		}
		attemptCtx := ctx
		if g.opts.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()
		}

		if cloned {
			_, err := g.run(attemptCtx, dir, "fetch", "--quiet", "--tags", "--force", "--prune", "origin")
			return err
		}
		// A failed clone may leave a partial directory behind.
		if err := os.RemoveAll(dir); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeInternal, "remove partial clone")
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeInternal, "create clone parent")
		}
		_, err := g.run(attemptCtx, "", "clone", "--quiet", repoURL, dir)
		return err
	})
	if err != nil {
		return coreerrors.AddContext(err, coreerrors.CtxRepoURL, repoURL)
	}
	return nil
}

// Revisions lists tags oldest first with their dates from
// `git log --tags --simplify-by-decoration`. A repository without tags yields
// a single "unknown" revision dated at HEAD.
func (g *GitFetcher) Revisions(ctx context.Context, dir string) ([]ports.Revision, error) {
	out, err := g.run(ctx, dir, "tag", "--list")
	if err != nil {
		return nil, err
	}
	tags := nonEmptyLines(out)

	if len(tags) == 0 {
		head, err := g.run(ctx, dir, "log", "-1", "--format=%ct")
		if err != nil {
			return nil, err
		}
		return []ports.Revision{{Name: records.UnknownVersion, ReleasedAt: parseUnix(strings.TrimSpace(head))}}, nil
	}

	dated, err := g.run(ctx, dir, "log", "--tags", "--simplify-by-decoration", "--pretty=format:%ct%x09%D")
	if err != nil {
		return nil, err
	}
	dates := parseTagDates(dated)

	revs := make([]ports.Revision, 0, len(tags))
	for _, tag := range tags {
		revs = append(revs, ports.Revision{Name: tag, ReleasedAt: dates[tag]})
	}
	sortRevisions(revs)
	if g.opts.MaxVersions > 0 && len(revs) > g.opts.MaxVersions {
		revs = revs[len(revs)-g.opts.MaxVersions:]
	}
	return revs, nil
}

func (g *GitFetcher) Checkout(ctx context.Context, dir string, rev ports.Revision) error {
	target := "HEAD"
	if rev.Name != records.UnknownVersion {
		target = "refs/tags/" + rev.Name
	}
	if _, err := g.run(ctx, dir, "checkout", "--quiet", "--force", "--detach", target); err != nil {
		return coreerrors.AddContext(err, coreerrors.CtxVersion, rev.Name)
	}
	// Files untracked in the new revision would otherwise leak into it.
	_, err := g.run(ctx, dir, "clean", "-ffdxq")
	return err
}

func (g *GitFetcher) run(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := args
	if dir != "" {
		fullArgs = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, g.opts.GitPath, fullArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=true")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	observability.GitCommandDuration.WithLabelValues(args[0]).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return "", ctx.Err()
		}
		code := coreerrors.CodeTransientIO
		if _, ok := err.(*exec.Error); ok {
			code = coreerrors.CodeConfig
		}
		return "", coreerrors.AddContext(
			coreerrors.Wrap(fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())), code, "git "+args[0]+" failed"),
			coreerrors.CtxOperation, "git "+args[0],
		)
	}
	return stdout.String(), nil
}

func parseTagDates(out string) map[string]time.Time {
	dates := make(map[string]time.Time)
	for _, line := range nonEmptyLines(out) {
		stamp, refs, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		when := parseUnix(stamp)
		for _, ref := range strings.Split(refs, ",") {
			ref = strings.TrimSpace(ref)
			if tag, found := strings.CutPrefix(ref, "tag: "); found {
				if _, seen := dates[tag]; !seen {
					dates[tag] = when
				}
			}
		}
	}
	return dates
}

// sortRevisions orders by release date, undated revisions first, then by
// natural version order.
func sortRevisions(revs []ports.Revision) {
	sort.SliceStable(revs, func(i, j int) bool {
		a, b := revs[i], revs[j]
		if !a.ReleasedAt.Equal(b.ReleasedAt) {
			return a.ReleasedAt.Before(b.ReleasedAt)
		}
		return util.CompareVersions(a.Name, b.Name) < 0
	})
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func nonEmptyLines(s string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// repoHost keys rate limiting. Local paths share one bucket.
func repoHost(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	if at := strings.Index(raw, "@"); at >= 0 {
		if host, _, ok := strings.Cut(raw[at+1:], ":"); ok {
			return strings.ToLower(host)
		}
	}
	return "local"
}
