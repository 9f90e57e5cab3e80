package hearts

import "context"

// =============================================================================
// PREMIUM OVERRIDE - Pure predicate, thin read-time branch
// =============================================================================

// PremiumOverride exempts a user from the capped-resource model. When it
// reports true the pool skips all mutation, scheduling, and ledgering for
// that user and reports an unlimited display sentinel. Keeping premium as a
// predicate avoids a second code path duplicating the state machine.
type PremiumOverride interface {
	IsPremium(ctx context.Context, userID UserID) bool
}

// NoPremium treats every user as free tier.
type NoPremium struct{}

func (NoPremium) IsPremium(context.Context, UserID) bool { return false }

// StaticPremium is a fixed flag set, for tests and single-user setups.
type StaticPremium map[UserID]bool

func (p StaticPremium) IsPremium(_ context.Context, userID UserID) bool { return p[userID] }

// DirectoryPremium reads the flag from the user registry. Unknown users are
// free tier.
type DirectoryPremium struct {
	Users UserStore
}

func (p DirectoryPremium) IsPremium(ctx context.Context, userID UserID) bool {
	profile, err := p.Users.GetUser(ctx, userID)
	if err != nil || profile == nil {
		return false
	}
	return profile.Premium
}
