package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/meterline/internal/domain"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "a/b.json", bytes.NewBufferString(`{"x":1}`), PutOptions{}))

	err := s.Put(ctx, "a/b.json", bytes.NewBufferString(`{}`), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, "a/b.json", bytes.NewBufferString(`{"x":2}`), PutOptions{Overwrite: true}))

	rc, info, err := s.Get(ctx, "a/b.json")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"x":2}`, string(body))
	assert.Equal(t, "application/json", info.ContentType)

	_, _, err = s.Get(ctx, "missing.json")
	assert.True(t, IsNotFound(err))
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s := newLocal(t)

	for _, key := range []string{"", "../etc/passwd", "a/../../b", "/abs"} {
		err := s.Put(context.Background(), key, bytes.NewBufferString("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestStatementArchive(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	subscriber := uuid.New()
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	st := domain.Statement{
		SubscriberID:       subscriber,
		PlanID:             domain.PlanBasic,
		PeriodStart:        start,
		PeriodEnd:          start.AddDate(0, 1, 0),
		UnitsUsed:          63,
		IncludedUnits:      60,
		OverageUnits:       3,
		OverageAmountCents: 30,
		Currency:           domain.DefaultCurrency,
	}

	key, err := SaveStatement(ctx, s, st)
	require.NoError(t, err)
	assert.Equal(t, "statements/"+subscriber.String()+"/2026-04-01.json", key)

	// Re-archiving the same period overwrites.
	_, err = SaveStatement(ctx, s, st)
	require.NoError(t, err)

	got, err := LoadStatement(ctx, s, subscriber, start)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.OverageUnits)
	assert.Equal(t, domain.Limit(60), got.IncludedUnits)

	keys, err := s.List(ctx, StatementPrefix(subscriber))
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestWrapS3Error(t *testing.T) {
	assert.ErrorIs(t, wrapS3Error(&smithy.GenericAPIError{Code: "NoSuchKey"}), ErrNotFound)
	assert.ErrorIs(t, wrapS3Error(&smithy.GenericAPIError{Code: "AccessDenied"}), ErrAccessDenied)

	other := errors.New("dial tcp: timeout")
	assert.ErrorIs(t, wrapS3Error(other), other)
}
