// Package webhook receives GitHub webhook deliveries, verifies their HMAC
// signatures, and hands parsed events to the settlement pipeline.
//
// # Security Model
//
//   - X-Hub-Signature-256 (HMAC-SHA256) is checked first; the legacy
//     X-Hub-Signature (HMAC-SHA1) is a fallback that can be disabled
//   - Signatures are compared with crypto/subtle over the exact raw body
//   - Body size limits are enforced before verification
//   - Auth failures return a generic body; payloads and signatures are never logged
//
// # Request Flow
//
//  1. Non-POST requests are rejected with 405
//  2. Body read up to max_body_size (413 beyond it)
//  3. Signature verified (401 "Invalid signature" on failure)
//  4. ping answered with 200 "Pong!"
//  5. Redeliveries of an already handled X-GitHub-Delivery answered with 200
//  6. Unsupported event types answered with 200 and no processing
//  7. Event processed; 400 when a PR lifecycle or review event names no
//     known bounty, 500 on persistence failures (left unrecorded so
//     GitHub's redelivery can retry)
package webhook
