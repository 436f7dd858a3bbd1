package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
)

// Routed is the normalized form of an event handed to the resolver.
type Routed struct {
	Type       string
	Action     string
	Trigger    bounty.Trigger
	Repository Repository
	PR         *PullRequest // pull_request and pull_request_review
	Issue      *Issue       // issues

	Ignored bool
	Reason  string
}

// Author returns the PR author login, or "" for issue events.
func (r Routed) Author() string {
	if r.PR == nil {
		return ""
	}
	return r.PR.User.Login
}

// Route maps ev to the trigger it drives. Actions with no bounty effect come
// back with Ignored set.
func Route(ev Event) Routed {
	switch e := ev.(type) {
	case *PingEvent:
		return ignored(TypePing, "", "ping")
	case *PullRequestEvent:
		return routePullRequest(e)
	case *PullRequestReviewEvent:
		return routeReview(e)
	case *IssuesEvent:
		return routeIssue(e)
	}
	return ignored(fmt.Sprintf("%T", ev), "", "unknown event")
}

func routePullRequest(e *PullRequestEvent) Routed {
	pr := &e.PullRequest
	r := Routed{Type: TypePullRequest, Action: e.Action, Repository: e.Repository, PR: pr}
	trig := bounty.Trigger{PRNumber: pr.Number, PRTitle: pr.Title, PRURL: pr.HTMLURL, Actor: e.Sender.Login}

	switch e.Action {
	case "opened":
		trig.Kind = bounty.TriggerPROpened
		trig.At = at(pr.CreatedAt)
		trig.Actor = pr.User.Login
	case "closed":
		if pr.Merged {
			trig.Kind = bounty.TriggerPRMerged
			trig.At = at(pr.MergedAt)
			if pr.MergedBy != nil && pr.MergedBy.Login != "" {
				trig.Actor = pr.MergedBy.Login
			}
		} else {
			trig.Kind = bounty.TriggerPRClosed
			trig.At = at(pr.ClosedAt)
		}
	case "reopened":
		trig.Kind = bounty.TriggerPRReopened
		trig.At = at(pr.UpdatedAt)
	default:
		r.Ignored = true
		r.Reason = "pull_request action " + e.Action
		return r
	}
	r.Trigger = trig
	return r
}

func routeReview(e *PullRequestReviewEvent) Routed {
	pr := &e.PullRequest
	r := Routed{Type: TypePullRequestReview, Action: e.Action, Repository: e.Repository, PR: pr}
	if e.Action != "submitted" {
		r.Ignored = true
		r.Reason = "pull_request_review action " + e.Action
		return r
	}

	trig := bounty.Trigger{
		At:       at(e.Review.SubmittedAt),
		Actor:    e.Review.User.Login,
		PRNumber: pr.Number,
		PRTitle:  pr.Title,
		PRURL:    pr.HTMLURL,
		ReviewID: e.Review.ID,
	}
	switch strings.ToLower(e.Review.State) {
	case "approved":
		trig.Kind = bounty.TriggerReviewApproved
	case "changes_requested":
		trig.Kind = bounty.TriggerReviewChangesRequested
	case "commented":
		trig.Kind = bounty.TriggerReviewCommented
	default:
		r.Ignored = true
		r.Reason = "review state " + e.Review.State
		return r
	}
	r.Trigger = trig
	return r
}

func routeIssue(e *IssuesEvent) Routed {
	issue := &e.Issue
	r := Routed{Type: TypeIssues, Action: e.Action, Repository: e.Repository, Issue: issue}
	trig := bounty.Trigger{Actor: e.Sender.Login}

	switch e.Action {
	case "closed":
		trig.Kind = bounty.TriggerIssueClosed
		trig.At = at(issue.ClosedAt)
	case "reopened":
		trig.Kind = bounty.TriggerIssueReopened
		trig.At = at(issue.UpdatedAt)
	default:
		r.Ignored = true
		r.Reason = "issues action " + e.Action
		return r
	}
	r.Trigger = trig
	return r
}

func ignored(typ, action, reason string) Routed {
	return Routed{Type: typ, Action: action, Ignored: true, Reason: reason}
}

func at(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
