// Package identity carries the caller identity supplied by the session
// collaborator. The engine trusts it fully; it never authenticates.
package identity

// Actor identifies the user driving an operation together with the
// organizations that user belongs to.
type Actor struct {
	UserID string
	OrgIDs []string
}

// BelongsTo reports whether the actor is a member of the organization.
func (a Actor) BelongsTo(orgID string) bool {
	if orgID == "" {
		return false
	}
	for _, id := range a.OrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// PrimaryOrg returns the actor's first org membership, or empty when the
// actor carries none.
func (a Actor) PrimaryOrg() string {
	if len(a.OrgIDs) == 0 {
		return ""
	}
	return a.OrgIDs[0]
}
