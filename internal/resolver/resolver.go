// Package resolver maps pull request, review and issue events to the bounty
// they concern.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/event"
)

// ErrNotResolved means no bounty could be associated with the event.
var ErrNotResolved = errors.New("bounty not resolved")

var (
	bodyIssueRef  = regexp.MustCompile(`(?i)(?:fixes|closes|resolves)\s+#(\d+)`)
	titleIssueRef = regexp.MustCompile(`#(\d+)`)
)

// Method records how a bounty was found.
type Method string

const (
	MethodDirect     Method = "direct"
	MethodIssue      Method = "issue_url"
	MethodRepository Method = "repository"
)

// Store is the lookup surface the resolver needs.
type Store interface {
	FindBountyByPR(ctx context.Context, prURL string) (*bounty.Bounty, error)
	FindBountyByIssueURL(ctx context.Context, issueURL string) (*bounty.Bounty, error)
	ListBountiesByRepository(ctx context.Context, repoURL string) ([]*bounty.Bounty, error)
	FindUserByGitHubUsername(ctx context.Context, login string) (*bounty.User, error)
}

// Resolution is a located bounty. Claim is set when the PR was linked
// heuristically and must be recorded with the transition.
type Resolution struct {
	Bounty *bounty.Bounty
	Via    Method
	Claim  *bounty.Claim
}

// Options tunes the heuristics.
type Options struct {
	// RepositoryFallback enables picking the earliest-created open bounty in
	// the PR's repository when no issue reference matches.
	RepositoryFallback bool
}

// Resolver locates bounties for routed events.
type Resolver struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

func New(store Store, opts Options, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, opts: opts, logger: logger.With("component", "resolver")}
}

// Resolve finds the bounty for r. Issue events match on the issue URL. PR
// and review events match the linked PR first; only a newly opened PR falls
// through to the issue-reference and repository heuristics.
func (res *Resolver) Resolve(ctx context.Context, r event.Routed) (Resolution, error) {
	if r.Issue != nil {
		b, err := res.store.FindBountyByIssueURL(ctx, r.Issue.HTMLURL)
		if err != nil {
			return Resolution{}, notResolved(err, "no bounty for issue "+r.Issue.HTMLURL)
		}
		return Resolution{Bounty: b, Via: MethodIssue}, nil
	}
	if r.PR == nil {
		return Resolution{}, fmt.Errorf("%w: event carries no pull request or issue", ErrNotResolved)
	}

	b, err := res.store.FindBountyByPR(ctx, r.PR.HTMLURL)
	switch {
	case err == nil:
		return Resolution{Bounty: b, Via: MethodDirect}, nil
	case !errors.Is(err, bounty.ErrNotFound):
		return Resolution{}, err
	}

	if r.Trigger.Kind != bounty.TriggerPROpened {
		return Resolution{}, fmt.Errorf("%w: no bounty linked to %s", ErrNotResolved, r.PR.HTMLURL)
	}
	return res.resolveNewPR(ctx, r)
}

func (res *Resolver) resolveNewPR(ctx context.Context, r event.Routed) (Resolution, error) {
	logger := res.logger.With("pr_url", r.PR.HTMLURL, "repository", r.Repository.FullName)

	var (
		b   *bounty.Bounty
		via Method
	)
	if issueURL := IssueURL(r.Repository.FullName, r.PR.Body, r.PR.Title); issueURL != "" {
		found, err := res.store.FindBountyByIssueURL(ctx, issueURL)
		switch {
		case err == nil && linkable(found, r.PR.HTMLURL):
			b, via = found, MethodIssue
		case err == nil:
			logger.Info("referenced bounty is not claimable", "bounty_id", found.ID, "status", found.Status)
		case !errors.Is(err, bounty.ErrNotFound):
			return Resolution{}, err
		}
	}

	if b == nil && res.opts.RepositoryFallback {
		found, err := res.firstOpenInRepository(ctx, repositoryURL(r.Repository))
		if err != nil {
			return Resolution{}, err
		}
		if found != nil {
			b, via = found, MethodRepository
			logger.Warn("bounty linked by repository fallback", "bounty_id", found.ID)
		}
	}
	if b == nil {
		return Resolution{}, fmt.Errorf("%w: no bounty matches %s", ErrNotResolved, r.PR.HTMLURL)
	}

	author := r.Author()
	claimedBy := b.ClaimedBy
	if claimedBy == "" {
		u, err := res.store.FindUserByGitHubUsername(ctx, author)
		if errors.Is(err, bounty.ErrUserNotFound) {
			return Resolution{}, fmt.Errorf("%w: PR author %q has no account", ErrNotResolved, author)
		}
		if err != nil {
			return Resolution{}, err
		}
		claimedBy = u.ID
	}

	return Resolution{
		Bounty: b,
		Via:    via,
		Claim:  &bounty.Claim{PRURL: r.PR.HTMLURL, SubmitterUsername: author, ClaimedBy: claimedBy},
	}, nil
}

// firstOpenInRepository returns the earliest-created open bounty, or nil.
func (res *Resolver) firstOpenInRepository(ctx context.Context, repoURL string) (*bounty.Bounty, error) {
	if repoURL == "" {
		return nil, nil
	}
	all, err := res.store.ListBountiesByRepository(ctx, repoURL)
	if err != nil {
		return nil, err
	}
	for _, b := range all {
		if b.Status.Normalize() == bounty.StatusOpen && b.LinkedPR() == "" {
			return b, nil
		}
	}
	return nil, nil
}

func linkable(b *bounty.Bounty, prURL string) bool {
	if b.Status.Terminal() {
		return false
	}
	linked := b.LinkedPR()
	return linked == "" || linked == prURL
}

// IssueURL extracts an issue reference from a PR body ("Fixes #12"), falling
// back to a bare "#12" in the title. It returns "" if neither matches.
func IssueURL(fullName, body, title string) string {
	if fullName == "" {
		return ""
	}
	var n string
	if m := bodyIssueRef.FindStringSubmatch(body); m != nil {
		n = m[1]
	} else if m := titleIssueRef.FindStringSubmatch(title); m != nil {
		n = m[1]
	}
	if n == "" {
		return ""
	}
	return "https://github.com/" + fullName + "/issues/" + n
}

func repositoryURL(repo event.Repository) string {
	if repo.HTMLURL != "" {
		return strings.TrimSuffix(repo.HTMLURL, "/")
	}
	if repo.FullName != "" {
		return "https://github.com/" + repo.FullName
	}
	return ""
}

func notResolved(err error, reason string) error {
	if errors.Is(err, bounty.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotResolved, reason)
	}
	return err
}
