// Package event decodes verified GitHub webhook payloads into typed events
// and routes each one to the bounty trigger it drives.
//
// Parse validates a payload on ingress and returns one of the concrete Event
// types. Unknown event types yield ErrUnsupported, which callers acknowledge
// without changing state so GitHub does not disable the hook. Route reduces a
// parsed event to a Routed value: either a bounty.Trigger plus the PR or issue
// it concerns, or an ignored marker with a reason.
package event
