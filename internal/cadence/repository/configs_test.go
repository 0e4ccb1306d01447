package repository

import (
	"context"
	"testing"

	"crm_backend/internal/cadence/domain"
	"crm_backend/internal/cadence/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// recordingTx answers QueryRow with the id argument it was given and records
// every statement.
type recordingTx struct {
	queryRows []string
	execs     []string
	execArgs  [][]any
}

func (tx *recordingTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, sql)
	tx.execArgs = append(tx.execArgs, args)
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (tx *recordingTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (tx *recordingTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	tx.queryRows = append(tx.queryRows, sql)
	return idRow{id: args[0].(uuid.UUID)}
}

type idRow struct {
	id uuid.UUID
}

func (r idRow) Scan(dest ...any) error {
	*(dest[0].(*uuid.UUID)) = r.id
	return nil
}

func TestUpsertConfigTxKeepsTemplatesOfItsOwnConfig(t *testing.T) {
	tx := &recordingTx{}
	params := ports.UpsertConfigParams{
		TenantID:   uuid.New(),
		PipelineID: uuid.New(),
		StageName:  "Contacted",
		IsActive:   true,
		Templates: []ports.UpsertTemplateParams{
			{TaskOrder: 0, Channel: domain.ChannelCall, ActionType: domain.ActionCall, Title: "Intro call", IsActive: true},
			{TaskOrder: 1, DayOffset: 2, Channel: domain.ChannelEmail, ActionType: domain.ActionEmailFollowUp, Title: "Follow-up", IsActive: true},
		},
	}

	configID, err := upsertConfigTx(context.Background(), tx, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if configID == uuid.Nil {
		t.Fatal("expected a config id")
	}
	if len(tx.queryRows) != 3 {
		t.Fatalf("expected config plus two template upserts, got %d", len(tx.queryRows))
	}
	if len(tx.execs) != 1 || tx.execs[0] != deleteStaleTemplatesQuery {
		t.Fatalf("expected a single stale-template delete, got %v", tx.execs)
	}

	args := tx.execArgs[0]
	if args[0] != params.TenantID || args[1] != configID {
		t.Fatalf("stale delete must be scoped to tenant and config, got %v", args[:2])
	}
	if kept := args[2].([]uuid.UUID); len(kept) != 2 {
		t.Fatalf("expected both templates kept, got %d", len(kept))
	}
}
