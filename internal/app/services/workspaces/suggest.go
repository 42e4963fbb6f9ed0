package workspaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/schema"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	apperrors "github.com/kaykluz/kiisha-dev-sub002/internal/errors"
)

// Suggestion is a machine-derived answer candidate sourced from a
// linked asset record. It is a proposal only; it never reaches the
// workspace without an explicit save.
type Suggestion struct {
	RequirementKey string `json:"requirement_key"`
	AssetID        string `json:"asset_id"`
	SourcePath     string `json:"source_path"`
	ValueJSON      string `json:"value_json"`
}

// Suggester derives answer candidates from an asset record.
type Suggester interface {
	Suggest(vatrJSON string, item schema.Item) (Suggestion, bool)
}

// PathSuggester resolves an item's source path hints against the asset
// record with JSONPath and proposes the first value found.
type PathSuggester struct{}

// NewPathSuggester constructs the default suggester.
func NewPathSuggester() *PathSuggester { return &PathSuggester{} }

// Suggest evaluates the item's path hints in declared order.
func (p *PathSuggester) Suggest(vatrJSON string, item schema.Item) (Suggestion, bool) {
	if vatrJSON == "" || len(item.VATRPathHints) == 0 {
		return Suggestion{}, false
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(vatrJSON), &doc); err != nil {
		return Suggestion{}, false
	}
	for _, hint := range item.VATRPathHints {
		value, err := jsonpath.Get(hint, doc)
		if err != nil || value == nil {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		return Suggestion{
			RequirementKey: item.Key,
			SourcePath:     hint,
			ValueJSON:      string(raw),
		}, true
	}
	return Suggestion{}, false
}

// SuggestAnswers proposes answers for unanswered auto-fillable items
// from a linked asset record. Items requiring human verification are
// never suggested.
func (s *Service) SuggestAnswers(ctx context.Context, actor identity.Actor, workspaceID, linkID string) ([]Suggestion, error) {
	ws, err := s.activeWorkspace(ctx, actor, workspaceID)
	if err != nil {
		return nil, err
	}

	link, err := s.store.GetAssetLink(ctx, workspaceID, linkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NotFound("asset link", linkID).WithCause(err)
		}
		return nil, err
	}
	if link.VATRJSON == "" {
		return []Suggestion{}, nil
	}

	sc, err := s.requestSchema(ctx, ws)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	answered := make(map[string]bool, len(answers))
	for _, ans := range answers {
		answered[ans.RequirementKey] = true
	}

	sg := s.suggester
	if sg == nil {
		sg = NewPathSuggester()
	}

	var out []Suggestion
	for _, item := range sc.Items {
		if item.Type == schema.ItemDocument || answered[item.Key] {
			continue
		}
		if item.Verification == schema.VerifyHumanRequired {
			continue
		}
		suggestion, ok := sg.Suggest(link.VATRJSON, item)
		if !ok {
			continue
		}
		suggestion.AssetID = link.AssetID
		out = append(out, suggestion)
	}
	return out, nil
}

// ApplySuggestion saves a suggestion as a draft answer through the
// normal save path, recording the asset provenance.
func (s *Service) ApplySuggestion(ctx context.Context, actor identity.Actor, workspaceID string, sg Suggestion) (workspace.Answer, error) {
	if sg.RequirementKey == "" || sg.ValueJSON == "" {
		return workspace.Answer{}, apperrors.InvalidInput("suggestion is missing a requirement key or value")
	}
	ans, err := s.SaveAnswer(ctx, actor, workspaceID, SaveAnswerInput{
		RequirementKey: sg.RequirementKey,
		ValueJSON:      sg.ValueJSON,
		VATRSourcePath: sg.SourcePath,
		AssetID:        sg.AssetID,
	})
	if err != nil {
		return workspace.Answer{}, fmt.Errorf("apply suggestion for %q: %w", sg.RequirementKey, err)
	}
	return ans, nil
}
