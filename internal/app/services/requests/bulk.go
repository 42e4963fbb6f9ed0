package requests

import (
	"context"
	"time"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
)

// BulkRecipient is one target of a bulk issue.
type BulkRecipient struct {
	OrgID string `json:"org_id,omitempty"`
	Email string `json:"email,omitempty"`
}

// BulkIssueInput fans one template+schema out to many recipients.
type BulkIssueInput struct {
	TemplateID string          `json:"template_id"`
	SchemaID   string          `json:"schema_id,omitempty"`
	Title      string          `json:"title"`
	DeadlineAt *time.Time      `json:"deadline_at,omitempty"`
	Recipients []BulkRecipient `json:"recipients"`
}

// BulkIssue creates, invites and issues one independent request per
// recipient. Each item is its own saga: a failure is recorded in the
// result and never rolls back the other items, so the issuer can retry
// failed recipients individually.
func (s *Service) BulkIssue(ctx context.Context, actor identity.Actor, in BulkIssueInput) ([]request.BulkIssueResult, error) {
	if len(in.Recipients) == 0 {
		return nil, nil
	}

	results := make([]request.BulkIssueResult, 0, len(in.Recipients))
	for _, target := range in.Recipients {
		result := request.BulkIssueResult{Recipient: recipientLabel(target)}

		if err := s.issueOne(ctx, actor, in, target, &result); err != nil {
			result.Success = false
			result.Error = err.Error()
			s.log.WithError(err).Warnf("bulk issue item for %s failed", result.Recipient)
		} else {
			result.Success = true
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Service) issueOne(ctx context.Context, actor identity.Actor, in BulkIssueInput, target BulkRecipient, result *request.BulkIssueResult) error {
	if err := validateRecipient(target.OrgID, target.Email); err != nil {
		return err
	}

	req, err := s.Create(ctx, actor, CreateInput{
		TemplateID: in.TemplateID,
		SchemaID:   in.SchemaID,
		Title:      in.Title,
		DeadlineAt: in.DeadlineAt,
	})
	if err != nil {
		return err
	}
	result.RequestID = req.ID

	if _, err := s.Invite(ctx, actor, req.ID, target.OrgID, target.Email); err != nil {
		return err
	}
	if _, err := s.Issue(ctx, actor, req.ID); err != nil {
		return err
	}
	return nil
}

func recipientLabel(target BulkRecipient) string {
	if target.OrgID != "" {
		return target.OrgID
	}
	return target.Email
}
