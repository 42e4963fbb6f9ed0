package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/submission"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/workspace"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestTranslateMapsDriverErrors(t *testing.T) {
	if got := translate(sql.ErrNoRows); got != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", got)
	}
	if got := translate(&pq.Error{Code: "23505"}); got != storage.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", got)
	}
	if got := translate(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestCreateRecipientConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO recipients").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.CreateRecipient(context.Background(), request.Recipient{
		RequestID: "req-1",
		OrgID:     "org-a",
		Email:     "ops@example.com",
		Status:    request.RecipientInvited,
	})
	if err != storage.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM requests").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRequest(context.Background(), "missing")
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertAnswerRejectsLockedWorkspace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status FROM workspaces").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(workspace.StatusLocked)))

	_, err := store.UpsertAnswer(context.Background(), workspace.Answer{
		WorkspaceID:    "ws-1",
		RequirementKey: "capacity_mw",
		ValueJSON:      `42`,
	})
	if err != storage.ErrWorkspaceLocked {
		t.Fatalf("expected ErrWorkspaceLocked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSealWorkspaceRollsBackWhenLocked(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM workspaces").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(workspace.StatusLocked)))
	mock.ExpectRollback()

	now := time.Now().UTC()
	_, err := store.SealWorkspace(context.Background(), storage.Seal{
		Submission: submission.Submission{
			ID:          "sub-1",
			WorkspaceID: "ws-1",
			RequestID:   "req-1",
			SnapshotID:  "snap-1",
			GrantID:     "grant-1",
			Status:      submission.StatusSubmitted,
			SubmittedAt: now,
		},
		Grant: submission.AccessGrant{
			ID:           "grant-1",
			SubmissionID: "sub-1",
			GranteeOrgID: "issuer-org",
			Scope:        submission.ScopeRead,
			CreatedAt:    now,
		},
		RecipientStatus: request.RecipientSubmitted,
	})
	if err != storage.ErrWorkspaceLocked {
		t.Fatalf("expected ErrWorkspaceLocked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSealWorkspaceCommitsFullWriteSet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM workspaces").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(workspace.StatusActive)))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// Workspace contents are read inside the transaction, under the row
	// lock, and frozen into the snapshot from there.
	mock.ExpectQuery("SELECT (.+) FROM answers").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "requirement_key", "value_json", "vatr_source_path", "asset_id", "updated_by_user_id", "created_at", "updated_at",
		}).AddRow("ans-1", "ws-1", "capacity_mw", `42`, "", "", "user-1", now, now))
	mock.ExpectQuery("SELECT (.+) FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workspace_id", "requirement_key", "file_url", "file_name", "content_hash", "uploaded_by_user_id", "created_at",
		}))
	mock.ExpectExec("INSERT INTO snapshots").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO submissions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO access_grants").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE workspaces").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recipients").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := store.SealWorkspace(context.Background(), storage.Seal{
		Submission: submission.Submission{
			ID:                "sub-1",
			WorkspaceID:       "ws-1",
			RequestID:         "req-1",
			RecipientOrgID:    "org-a",
			SubmittedByUserID: "user-1",
			SnapshotID:        "snap-1",
			GrantID:           "grant-1",
			Status:            submission.StatusSubmitted,
			SubmittedAt:       now,
		},
		Grant: submission.AccessGrant{
			ID:           "grant-1",
			SubmissionID: "sub-1",
			GranteeOrgID: "issuer-org",
			Scope:        submission.ScopeRead,
			CreatedAt:    now,
		},
		RecipientStatus: request.RecipientSubmitted,
	})
	if err != nil {
		t.Fatalf("seal workspace: %v", err)
	}
	if sub.ID != "sub-1" {
		t.Fatalf("expected submission sub-1, got %s", sub.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetSnapshotRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	orig := submission.NewSnapshot("snap-1", "ws-1", now, []submission.SnapshotAnswer{
		{RequirementKey: "capacity_mw", ValueJSON: `42`},
	}, []submission.SnapshotDocument{
		{FileURL: "mem://abc", FileName: "interconnect.pdf"},
	})
	content, err := orig.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	mock.ExpectQuery("SELECT content FROM snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow(content))

	snap, err := store.GetSnapshot(context.Background(), "snap-1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.ID() != "snap-1" || snap.WorkspaceID() != "ws-1" {
		t.Fatalf("unexpected snapshot identity: %s / %s", snap.ID(), snap.WorkspaceID())
	}
	answers := snap.Answers()
	if len(answers) != 1 || answers[0].RequirementKey != "capacity_mw" {
		t.Fatalf("unexpected answers: %+v", answers)
	}
}
