package event

import "time"

// Payload structs carry only the fields the pipeline reads. JSON names
// follow GitHub's webhook payload documentation.

// User is a GitHub account reference (sender, author, reviewer).
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// Repository is the repository an event fired in.
type Repository struct {
	FullName string `json:"full_name"` // "owner/repo"
	HTMLURL  string `json:"html_url"`
}

// PullRequest is the pull_request object shared by PR and review events.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	State     string     `json:"state"`
	Merged    bool       `json:"merged"`
	User      User       `json:"user"`
	MergedBy  *User      `json:"merged_by"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`
}

// Review is a submitted pull request review.
type Review struct {
	ID          int64      `json:"id"`
	State       string     `json:"state"` // approved, changes_requested, commented
	User        User       `json:"user"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

// Issue is the issue object of an issues event.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	HTMLURL   string     `json:"html_url"`
	State     string     `json:"state"`
	User      User       `json:"user"`
	UpdatedAt *time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

// Event is one verified webhook payload. The concrete type is one of
// *PingEvent, *PullRequestEvent, *PullRequestReviewEvent or *IssuesEvent.
type Event interface {
	Type() string
	isEvent()
}

// PingEvent is sent when a webhook is first configured.
type PingEvent struct {
	Zen        string      `json:"zen"`
	HookID     int64       `json:"hook_id"`
	Repository *Repository `json:"repository"`
}

// PullRequestEvent is a "pull_request" delivery.
type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

// PullRequestReviewEvent is a "pull_request_review" delivery.
type PullRequestReviewEvent struct {
	Action      string      `json:"action"`
	Review      Review      `json:"review"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

// IssuesEvent is an "issues" delivery.
type IssuesEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

const (
	TypePing              = "ping"
	TypePullRequest       = "pull_request"
	TypePullRequestReview = "pull_request_review"
	TypeIssues            = "issues"
)

func (*PingEvent) Type() string              { return TypePing }
func (*PullRequestEvent) Type() string       { return TypePullRequest }
func (*PullRequestReviewEvent) Type() string { return TypePullRequestReview }
func (*IssuesEvent) Type() string            { return TypeIssues }

func (*PingEvent) isEvent()              {}
func (*PullRequestEvent) isEvent()       {}
func (*PullRequestReviewEvent) isEvent() {}
func (*IssuesEvent) isEvent()            {}
