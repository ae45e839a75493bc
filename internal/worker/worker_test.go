package worker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/DukeRupert/meterline/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "concurrency too low",
			config: Config{
				Concurrency:       0,
				PollInterval:      5 * time.Second,
				JobTimeout:        5 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
		{
			name: "concurrency too high",
			config: Config{
				Concurrency:       101,
				PollInterval:      5 * time.Second,
				JobTimeout:        5 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
		{
			name: "poll interval too short",
			config: Config{
				Concurrency:       2,
				PollInterval:      500 * time.Millisecond,
				JobTimeout:        5 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
		{
			name: "stale threshold within job timeout",
			config: Config{
				Concurrency:       2,
				PollInterval:      5 * time.Second,
				JobTimeout:        15 * time.Minute,
				ShutdownTimeout:   30 * time.Second,
				StaleJobThreshold: 10 * time.Minute,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "permanent error", err: NewPermanentError(context.Canceled), want: true},
		{name: "wrapped permanent error", err: errors.Join(errors.New("decode"), NewPermanentError(io.EOF)), want: true},
		{name: "regular error", err: context.Canceled, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

// =============================================================================
// Job processing
// =============================================================================

type recordingHandler struct {
	jobType  string
	payloads [][]byte
	err      error
}

func (h *recordingHandler) Type() string { return h.jobType }

func (h *recordingHandler) Handle(_ context.Context, payload []byte) error {
	h.payloads = append(h.payloads, payload)
	return h.err
}

var jobRowColumns = []string{
	"id", "job_type", "payload", "unique_key", "status", "priority", "attempts",
	"max_attempts", "scheduled_at", "started_at", "completed_at", "error_message", "created_at",
}

func newTestWorker(t *testing.T) (*Worker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	w, err := New(db, repository.New(db), DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return w, mock
}

func expectDequeue(mock sqlmock.Sqlmock, id uuid.UUID, jobType string, payload string) {
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			id.String(), jobType, []byte(payload), nil, "pending", 10, 0, 3, now, nil, nil, nil, now,
		))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'running'")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestWorker_ProcessNextJob(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("completes a job", func(t *testing.T) {
		w, mock := newTestWorker(t)
		h := &recordingHandler{jobType: JobTypeReconcileTeam}
		w.Register(h)

		id := uuid.New()
		expectDequeue(mock, id, JobTypeReconcileTeam, `{"team_id":"x"}`)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed'")).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, w.processNextJob(context.Background(), logger))
		require.Len(t, h.payloads, 1)
		assert.JSONEq(t, `{"team_id":"x"}`, string(h.payloads[0]))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retryable failure is rescheduled", func(t *testing.T) {
		w, mock := newTestWorker(t)
		w.Register(&recordingHandler{jobType: JobTypeOverageRetry, err: errors.New("ledger down")})

		id := uuid.New()
		expectDequeue(mock, id, JobTypeOverageRetry, `{}`)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
			WithArgs(id, "ledger down", false).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := w.processNextJob(context.Background(), logger)
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown job type fails permanently", func(t *testing.T) {
		w, mock := newTestWorker(t)

		id := uuid.New()
		expectDequeue(mock, id, "mystery", `{}`)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
			WithArgs(id, sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := w.processNextJob(context.Background(), logger)
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue", func(t *testing.T) {
		w, mock := newTestWorker(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := w.processNextJob(context.Background(), logger)
		assert.ErrorIs(t, err, sql.ErrNoRows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEnqueueSweep_Dedupe(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	queries := repository.New(db)

	asOf := time.Date(2026, 6, 1, 0, 5, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(JobTypeRenewalSweep, sqlmock.AnyArg(), "renewal_sweep:202606010005", int32(PriorityHigh), int32(3), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err = EnqueueSweep(context.Background(), queries, JobTypeRenewalSweep, asOf, "202606010005")
	assert.ErrorIs(t, err, ErrDuplicateJob)
	assert.NoError(t, mock.ExpectationsWereMet())
}
