package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupported marks event types the pipeline does not handle.
	ErrUnsupported = errors.New("unsupported event type")
	// ErrMalformed marks payloads that do not decode or lack required fields.
	ErrMalformed = errors.New("malformed event payload")
)

// Parse decodes body according to the X-GitHub-Event header value.
func Parse(eventType string, body []byte) (Event, error) {
	var ev Event
	switch strings.TrimSpace(eventType) {
	case TypePing:
		ev = &PingEvent{}
	case TypePullRequest:
		ev = &PullRequestEvent{}
	case TypePullRequestReview:
		ev = &PullRequestReviewEvent{}
	case TypeIssues:
		ev = &IssuesEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, eventType)
	}

	if err := json.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, eventType, err)
	}
	if err := validate(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, eventType, err)
	}
	return ev, nil
}

func validate(ev Event) error {
	switch e := ev.(type) {
	case *PullRequestEvent:
		if e.Action == "" {
			return errors.New("missing action")
		}
		return validatePR(&e.PullRequest, &e.Repository)
	case *PullRequestReviewEvent:
		if e.Action == "" {
			return errors.New("missing action")
		}
		if e.Action == "submitted" && e.Review.State == "" {
			return errors.New("missing review.state")
		}
		return validatePR(&e.PullRequest, &e.Repository)
	case *IssuesEvent:
		if e.Action == "" {
			return errors.New("missing action")
		}
		if e.Issue.HTMLURL == "" || e.Issue.Number <= 0 {
			return errors.New("missing issue.html_url or issue.number")
		}
		if e.Repository.FullName == "" {
			return errors.New("missing repository.full_name")
		}
	}
	return nil
}

func validatePR(pr *PullRequest, repo *Repository) error {
	if pr.HTMLURL == "" || pr.Number <= 0 {
		return errors.New("missing pull_request.html_url or pull_request.number")
	}
	if repo.FullName == "" {
		return errors.New("missing repository.full_name")
	}
	return nil
}
