package submission

import (
	"encoding/json"
	"time"
)

// SnapshotAnswer is one frozen answer value.
type SnapshotAnswer struct {
	RequirementKey string `json:"requirement_key"`
	ValueJSON      string `json:"value_json"`
	VATRSourcePath string `json:"vatr_source_path,omitempty"`
	AssetID        string `json:"asset_id,omitempty"`
}

// SnapshotDocument is one frozen document reference.
type SnapshotDocument struct {
	RequirementKey string `json:"requirement_key,omitempty"`
	FileURL        string `json:"file_url"`
	FileName       string `json:"file_name"`
	ContentHash    string `json:"content_hash,omitempty"`
}

// Snapshot is the deep copy of a workspace's answers and documents taken
// at the instant the workspace locked. It has no setters: once built it
// can only be read, and every accessor returns a copy.
type Snapshot struct {
	id          string
	workspaceID string
	takenAt     time.Time
	answers     []SnapshotAnswer
	documents   []SnapshotDocument
}

// NewSnapshot builds a snapshot, copying the provided slices so later
// mutation of the inputs cannot reach the frozen state.
func NewSnapshot(id, workspaceID string, takenAt time.Time, answers []SnapshotAnswer, documents []SnapshotDocument) Snapshot {
	return Snapshot{
		id:          id,
		workspaceID: workspaceID,
		takenAt:     takenAt.UTC(),
		answers:     append([]SnapshotAnswer(nil), answers...),
		documents:   append([]SnapshotDocument(nil), documents...),
	}
}

// ID returns the snapshot identifier.
func (s Snapshot) ID() string { return s.id }

// WorkspaceID returns the source workspace.
func (s Snapshot) WorkspaceID() string { return s.workspaceID }

// TakenAt returns the freeze instant.
func (s Snapshot) TakenAt() time.Time { return s.takenAt }

// Answers returns a copy of the frozen answers.
func (s Snapshot) Answers() []SnapshotAnswer {
	return append([]SnapshotAnswer(nil), s.answers...)
}

// Documents returns a copy of the frozen document references.
func (s Snapshot) Documents() []SnapshotDocument {
	return append([]SnapshotDocument(nil), s.documents...)
}

// snapshotJSON is the persisted wire form of a snapshot.
type snapshotJSON struct {
	ID          string             `json:"id"`
	WorkspaceID string             `json:"workspace_id"`
	TakenAt     time.Time          `json:"taken_at"`
	Answers     []SnapshotAnswer   `json:"answers"`
	Documents   []SnapshotDocument `json:"documents"`
}

// MarshalJSON encodes the snapshot for storage and transport.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		ID:          s.id,
		WorkspaceID: s.workspaceID,
		TakenAt:     s.takenAt,
		Answers:     s.answers,
		Documents:   s.documents,
	})
}

// UnmarshalJSON rebuilds a snapshot from its stored form.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSnapshot(raw.ID, raw.WorkspaceID, raw.TakenAt, raw.Answers, raw.Documents)
	return nil
}
