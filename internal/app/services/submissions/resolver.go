package submissions

import (
	"context"
	"errors"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
)

// Resolver is the single decision point for sealed-content access.
// Exactly two paths grant access: membership in the submitting org, or
// a live grant held by the actor's org. There is no admin bypass.
type Resolver struct {
	store storage.SubmissionStore
}

// NewResolver constructs a resolver over the submission store.
func NewResolver(store storage.SubmissionStore) *Resolver {
	return &Resolver{store: store}
}

// CanAccessSubmission decides access for one actor and submission.
// Revoked grants deny; a revocation takes effect on the next call.
func (r *Resolver) CanAccessSubmission(ctx context.Context, actor identity.Actor, sub submission.Submission) (submission.AccessDecision, error) {
	if actor.BelongsTo(sub.RecipientOrgID) {
		return submission.AccessDecision{CanAccess: true, AccessType: submission.AccessOwner}, nil
	}

	for _, org := range actor.OrgIDs {
		grant, err := r.store.FindGrant(ctx, sub.ID, org)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return submission.AccessDecision{}, err
		}
		if !grant.Revoked() {
			return submission.AccessDecision{CanAccess: true, AccessType: submission.AccessGranted}, nil
		}
	}
	return submission.AccessDecision{}, nil
}
