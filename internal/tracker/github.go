package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Rogers-F/turngov/internal/domain"
)

const (
	defaultRequestsPerSecond = 5
	defaultBurst             = 5
	defaultTimeout           = 10 * time.Second
)

// GitHubConfig holds GitHub tracker configuration.
type GitHubConfig struct {
	Token             string
	Owner             string
	Repo              string
	RequestsPerSecond float64
	Timeout           time.Duration
	// BaseURL points the client at a GitHub Enterprise or test server.
	BaseURL string
}

// GitHub reads and writes phase labels on GitHub issues.
type GitHub struct {
	client  *github.Client
	limiter *rate.Limiter
	owner   string
	repo    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGitHub creates a GitHub tracker authenticated with a static token.
func NewGitHub(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &GitHub{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), defaultBurst),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Labels returns the names of every label on the issue.
func (g *GitHub) Labels(ctx context.Context, ref IssueRef) ([]string, error) {
	owner, repo, err := g.resolve(ref)
	if err != nil {
		return nil, err
	}

	var names []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		var labels []*github.Label
		var resp *github.Response
		err := g.call(ctx, func(ctx context.Context) error {
			var err error
			labels, resp, err = g.client.Issues.ListLabelsByIssue(ctx, owner, repo, ref.Number, opts)
			return err
		})
		if err != nil {
			return nil, g.wrap("list labels", ref, err)
		}
		for _, l := range labels {
			names = append(names, l.GetName())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// AddLabels attaches labels to the issue.
func (g *GitHub) AddLabels(ctx context.Context, ref IssueRef, labels ...string) error {
	owner, repo, err := g.resolve(ref)
	if err != nil {
		return err
	}
	err = g.call(ctx, func(ctx context.Context) error {
		_, _, err := g.client.Issues.AddLabelsToIssue(ctx, owner, repo, ref.Number, labels)
		return err
	})
	if err != nil {
		return g.wrap("add labels", ref, err)
	}
	return nil
}

// RemoveLabel detaches label from the issue. A 404 means the label was not
// present and is not an error.
func (g *GitHub) RemoveLabel(ctx context.Context, ref IssueRef, label string) error {
	owner, repo, err := g.resolve(ref)
	if err != nil {
		return err
	}
	err = g.call(ctx, func(ctx context.Context) error {
		resp, err := g.client.Issues.RemoveLabelForIssue(ctx, owner, repo, ref.Number, label)
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return g.wrap("remove label", ref, err)
	}
	return nil
}

// call waits for the rate limiter, then runs fn under the per-call timeout.
func (g *GitHub) call(ctx context.Context, fn func(context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(ctx)
}

func (g *GitHub) resolve(ref IssueRef) (string, string, error) {
	owner, repo := ref.Owner, ref.Repo
	if owner == "" {
		owner = g.owner
	}
	if repo == "" {
		repo = g.repo
	}
	if owner == "" || repo == "" {
		return "", "", domain.NewEngineError(domain.ErrTrackerUnavailable.Code, "no repository for issue "+ref.String())
	}
	return owner, repo, nil
}

func (g *GitHub) wrap(op string, ref IssueRef, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		g.logger.Warn("GitHub rate limit hit", zap.String("op", op), zap.Time("reset", rateErr.Rate.Reset.Time))
	}
	return domain.WrapEngineError(domain.ErrTrackerUnavailable.Code, fmt.Sprintf("%s on %s", op, ref), err)
}
