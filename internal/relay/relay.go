// Package relay holds the policy that turns an inbound message into the
// relay's response. Swapping the policy is the only change needed to give the
// relay real behaviour.
package relay

import "context"

// Policy computes the response to content sent by userID. ok is false when
// no response should be generated.
type Policy func(ctx context.Context, userID int64, content string) (response string, ok bool)

// Echo answers every message with its own content.
func Echo(_ context.Context, _ int64, content string) (string, bool) {
	return content, true
}
