package publish

import (
	"context"
	"encoding/json"
	"testing"

	"bilipub/internal/errs"
	"bilipub/internal/model"
	"bilipub/internal/repository/queue"
	"bilipub/internal/repository/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() SubmitRequest {
	return SubmitRequest{
		TaskID:  "task-1",
		Summary: "摘要",
		Payload: model.JobPayload{
			Meta:  json.RawMessage(testMetaJSON),
			Video: &model.BlobRef{Type: "blob", Key: testVideoKey},
		},
	}
}

func TestSubmitCreatesJobAndEnqueues(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue()
	s := NewSubmitter(st, q, zerolog.Nop())
	ctx := context.Background()

	job, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitting, job.State)
	assert.Equal(t, "task-1", job.TaskID)

	task, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskPublishing, task.Status)
	assert.Equal(t, "摘要", task.Summary)

	payload, err := model.DecodeJobPayload(job.MetaJSON)
	require.NoError(t, err)
	assert.Equal(t, testVideoKey, payload.ResolveVideoKey())

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, job.ID, msg.JobID)
	assert.Equal(t, 0, msg.Retries)
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	cases := map[string]func(r *SubmitRequest){
		"bad meta":     func(r *SubmitRequest) { r.Payload.Meta = json.RawMessage(`{"title":""}`) },
		"no video":     func(r *SubmitRequest) { r.Payload.Video = nil },
		"unknown mode": func(r *SubmitRequest) { r.Payload.TypeIDMode = "guess" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			st := store.NewMemoryStore()
			q := queue.NewMemoryQueue()
			req := validRequest()
			mutate(&req)

			_, err := NewSubmitter(st, q, zerolog.Nop()).Submit(context.Background(), req)
			var ve *errs.ValidationError
			require.ErrorAs(t, err, &ve)

			msg, err := q.Dequeue(context.Background())
			require.NoError(t, err)
			assert.Nil(t, msg)
			_, err = st.GetTask(context.Background(), "task-1")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestRetryOnlyFailedJobs(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue()
	s := NewSubmitter(st, q, zerolog.Nop())
	ctx := context.Background()

	job, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, first))

	_, err = s.Retry(ctx, job.ID)
	var pe *errs.PreconditionError
	require.ErrorAs(t, err, &pe)

	require.NoError(t, st.UpdateJob(ctx, job.ID, func(j *model.PublishJob) error {
		j.State = model.StateFailed
		j.ResultJSON = `{"error":"x"}`
		return nil
	}))
	require.NoError(t, st.UpdateTask(ctx, job.TaskID, func(t *model.Task) error {
		t.Status = model.TaskFailed
		t.ErrorCode = model.ErrorCodePublishFailed
		return nil
	}))

	retried, err := s.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitting, retried.State)
	assert.Empty(t, retried.ResultJSON)

	task, err := st.GetTask(ctx, job.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPublishing, task.Status)
	assert.Empty(t, task.ErrorCode)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, job.ID, msg.JobID)
}
