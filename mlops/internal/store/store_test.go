package store_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
	"github.com/ILLUVRSE/mlops/mlops/internal/store"
)

var columns = []string{"id", "pipeline_name", "model_name", "execution_id", "job_name", "job_status", "status", "summary", "rmse", "threshold", "decided_at"}

func decision(exec string, at time.Time, status models.ApprovalStatus) models.Decision {
	rmse := 4.2
	return models.Decision{
		PipelineName: "abalone-pipeline",
		ModelName:    "abalone",
		ExecutionID:  exec,
		JobName:      "mlops-abalone-" + exec,
		JobStatus:    models.ProcessingCompleted,
		Status:       status,
		Summary:      "Model trained successfully, rmse: 4.2",
		RMSE:         &rmse,
		Threshold:    5,
		DecidedAt:    at,
	}
}

func TestPGStoreRecordDecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	mock.ExpectQuery("INSERT INTO gate_decisions").
		WithArgs(sqlmock.AnyArg(), "abalone-pipeline", "abalone", "e123", "mlops-abalone-e123", "Completed", "Approved",
			"Model trained successfully, rmse: 4.2", 4.2, 5.0, at).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id.String(), "abalone-pipeline", "abalone", "e123", "mlops-abalone-e123", "Completed", "Approved",
				"Model trained successfully, rmse: 4.2", 4.2, 5.0, at))

	got, err := store.NewPGStore(db).RecordDecision(context.Background(), decision("e123", at, models.ApprovalApproved))
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, models.ApprovalApproved, got.Status)
	assert.Equal(t, models.ProcessingCompleted, got.JobStatus)
	require.NotNil(t, got.RMSE)
	assert.Equal(t, 4.2, *got.RMSE)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGStoreListDecisions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("AND status = $1 ORDER BY decided_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("Rejected", 10, 20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.New().String(), "abalone-pipeline", "abalone", "e9", "mlops-abalone-e9", "Failed", "Rejected",
				"Processing job mlops-abalone-e9 finished with status Failed", nil, 5.0, at))

	got, err := store.NewPGStore(db).ListDecisions(context.Background(), store.ListDecisionsFilter{
		Status: models.ApprovalRejected,
		Limit:  10,
		Offset: 20,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].RMSE)
	assert.Equal(t, "e9", got[0].ExecutionID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGStoreGetDecisionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM gate_decisions WHERE execution_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = store.NewPGStore(db).GetDecisionByExecution(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPGStoreEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS gate_decisions").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.NewPGStore(db).EnsureSchema(context.Background()))
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := m.RecordDecision(ctx, decision("e1", base, models.ApprovalApproved))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	_, err = m.RecordDecision(ctx, decision("e2", base.Add(time.Minute), models.ApprovalRejected))
	require.NoError(t, err)
	_, err = m.RecordDecision(ctx, decision("e3", base.Add(2*time.Minute), models.ApprovalApproved))
	require.NoError(t, err)

	// re-recording keeps the original id
	again, err := m.RecordDecision(ctx, decision("e1", base, models.ApprovalRejected))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	all, err := m.ListDecisions(ctx, store.ListDecisionsFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e3", "e2", "e1"}, []string{all[0].ExecutionID, all[1].ExecutionID, all[2].ExecutionID})

	page, err := m.ListDecisions(ctx, store.ListDecisionsFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "e2", page[0].ExecutionID)

	approved, err := m.ListDecisions(ctx, store.ListDecisionsFilter{Status: models.ApprovalApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "e3", approved[0].ExecutionID)

	empty, err := m.ListDecisions(ctx, store.ListDecisionsFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)

	got, err := m.GetDecisionByExecution(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, got.Status)

	_, err = m.GetDecisionByExecution(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
