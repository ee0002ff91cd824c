package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsight/arbiter-api/pkg/config"
)

func testQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := New(&config.QueueConfig{Addr: srv.Addr(), Key: "arbiter:reports"}, logger)
	t.Cleanup(func() { q.Close() })
	return q, srv
}

func TestQueue_EnqueueReport(t *testing.T) {
	q, srv := testQueue(t)
	ctx := context.Background()

	job := ReportJob{
		ReportID: uuid.New(),
		Token:    "bearer-token",
		BaseURL:  "http://localhost:8080",
	}
	require.NoError(t, q.EnqueueReport(ctx, job))

	payload, err := srv.Lpop("arbiter:reports")
	require.NoError(t, err)

	var got ReportJob
	require.NoError(t, json.Unmarshal([]byte(payload), &got))
	assert.Equal(t, job, got)
}

func TestQueue_EnqueueReport_Ordering(t *testing.T) {
	q, srv := testQueue(t)
	ctx := context.Background()

	first := ReportJob{ReportID: uuid.New()}
	second := ReportJob{ReportID: uuid.New()}
	require.NoError(t, q.EnqueueReport(ctx, first))
	require.NoError(t, q.EnqueueReport(ctx, second))

	// Workers consume with RPOP, so the first job enqueued sits at the tail.
	items, err := srv.List("arbiter:reports")
	require.NoError(t, err)
	require.Len(t, items, 2)

	var tail ReportJob
	require.NoError(t, json.Unmarshal([]byte(items[len(items)-1]), &tail))
	assert.Equal(t, first.ReportID, tail.ReportID)
}

func TestQueue_Ping(t *testing.T) {
	q, srv := testQueue(t)
	ctx := context.Background()

	assert.NoError(t, q.Ping(ctx))

	srv.Close()
	assert.Error(t, q.Ping(ctx))
}

func TestQueue_EnqueueReport_Unavailable(t *testing.T) {
	q, srv := testQueue(t)
	srv.Close()

	err := q.EnqueueReport(context.Background(), ReportJob{ReportID: uuid.New()})
	assert.Error(t, err)
}
