package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"dctledger/internal/dct"
	"dctledger/internal/sot"
	"dctledger/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct {
	calls int
	err   error
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return c.err
}

func newRecorder(t *testing.T, opts ...Option) (*Recorder, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return NewRecorder(mem, NewResolver(mem), opts...), mem
}

func ideaEnvelope(payload string) sot.Envelope {
	return sot.Envelope{
		Version: sot.Version,
		TS:      "2025-03-01T12:00:00Z",
		Source:  "dct-operator",
		Kind:    "dct.idea-create",
		Summary: "create goal",
		Payload: json.RawMessage(payload),
	}
}

func TestRecordAppendsEventAndStampsTypeTag(t *testing.T) {
	inv := &countingInvalidator{}
	rec, mem := newRecorder(t, WithInvalidator(inv))

	receipt, err := rec.Record(context.Background(), ideaEnvelope(`{"ideaId":"goal.v1","text":"Ship it","extra":1}`))
	require.NoError(t, err)

	assert.Regexp(t, `^evt_[0-9a-f]{32}$`, receipt.Event.EventID)
	assert.Equal(t, int64(1), receipt.Event.Seq)
	assert.Empty(t, receipt.Warnings)
	assert.Equal(t, 1, inv.calls)

	stored, err := mem.GetEvent(context.Background(), receipt.Event.EventID)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(stored.Payload, &fields))
	assert.Equal(t, "dct.idea.create", fields["type"])
	assert.Equal(t, float64(1), fields["extra"])
	assert.Equal(t, "dct.idea-create", stored.Kind)
}

func TestRecordKeepsExistingTypeTag(t *testing.T) {
	rec, _ := newRecorder(t)
	payload := `{"type":"dct.idea-create","ideaId":"goal.v1","text":"Ship it"}`

	receipt, err := rec.Record(context.Background(), ideaEnvelope(payload))
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(receipt.Event.Payload))
}

func TestRecordRejectsInvalidEnvelopeWithoutWriting(t *testing.T) {
	rec, mem := newRecorder(t)
	env := ideaEnvelope(`{"ideaId":"goal.v1","text":"Ship it"}`)
	env.Source = "  "
	env.TS = "yesterday"

	_, err := rec.Record(context.Background(), env)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	var verr *sot.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)

	head, err := mem.Head(context.Background())
	require.NoError(t, err)
	assert.Zero(t, head)
}

func TestRecordRejectsBadDCTPayload(t *testing.T) {
	cases := map[string]sot.Envelope{
		"missing payload": ideaEnvelope(`null`),
		"blank text":      ideaEnvelope(`{"ideaId":"goal.v1","text":"  "}`),
		"tag mismatch":    ideaEnvelope(`{"type":"dct.slot.bind","ideaId":"goal.v1","text":"x"}`),
		"unknown kind": {
			TS: "2025-03-01T12:00:00Z", Source: "s", Kind: "dct.idea.merge", Summary: "x",
			Payload: json.RawMessage(`{"ideaId":"a"}`),
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			inv := &countingInvalidator{}
			rec, mem := newRecorder(t, WithInvalidator(inv))

			_, err := rec.Record(context.Background(), env)
			require.Error(t, err)
			var perr *dct.PayloadError
			assert.True(t, errors.As(err, &perr))
			assert.NotEmpty(t, FieldErrors(err))

			head, _ := mem.Head(context.Background())
			assert.Zero(t, head)
			assert.Zero(t, inv.calls)
		})
	}
}

func TestRecordNonDCTKindSkipsPayloadValidation(t *testing.T) {
	inv := &countingInvalidator{}
	rec, _ := newRecorder(t, WithInvalidator(inv))

	receipt, err := rec.Record(context.Background(), sot.Envelope{
		TS:      "2025-03-01T12:00:00Z",
		Source:  "ci",
		Kind:    "build.finished",
		Summary: "green",
		Payload: json.RawMessage(`[1,2,3]`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(receipt.Event.Payload))
	assert.Zero(t, inv.calls)
}

func TestRecordResolvesRegistryNames(t *testing.T) {
	rec, mem := newRecorder(t)
	repo, err := mem.RegisterRepo(context.Background(), "chronicle")
	require.NoError(t, err)

	env := ideaEnvelope(`{"ideaId":"goal.v1","text":"Ship it"}`)
	env.RepoName = "chronicle"
	env.DomainName = "unknown.dev"

	receipt, err := rec.Record(context.Background(), env)
	require.NoError(t, err)
	require.NotNil(t, receipt.Event.RepoID)
	assert.Equal(t, repo.ID, *receipt.Event.RepoID)
	assert.Nil(t, receipt.Event.DomainID)
}

func TestRecordLogsVersionWarningAndInvalidationFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	inv := &countingInvalidator{err: errors.New("redis down")}
	rec, _ := newRecorder(t, WithInvalidator(inv), WithLogger(logger))

	env := ideaEnvelope(`{"ideaId":"goal.v1","text":"Ship it"}`)
	env.Version = "sot-event-0.2"

	receipt, err := rec.Record(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, receipt.Warnings, 1)
	assert.Contains(t, receipt.Warnings[0], "sot-event-0.2")

	require.Len(t, hook.AllEntries(), 2)
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, receipt.Event.EventID, entry.Data["event_id"])
	}
}

func TestRecordGeneratesDistinctIDsForIdenticalEnvelopes(t *testing.T) {
	rec, _ := newRecorder(t)
	env := ideaEnvelope(`{"ideaId":"goal.v1","text":"Ship it"}`)

	a, err := rec.Record(context.Background(), env)
	require.NoError(t, err)
	b, err := rec.Record(context.Background(), env)
	require.NoError(t, err)
	assert.NotEqual(t, a.Event.EventID, b.Event.EventID)
	assert.Equal(t, a.Event.Seq+1, b.Event.Seq)
}

func TestRecordReportsEnvelopeAndPayloadFieldsTogether(t *testing.T) {
	rec, mem := newRecorder(t)
	env := ideaEnvelope(`{"ideaId":"goal.v1","text":"  "}`)
	env.Summary = ""

	_, err := rec.Record(context.Background(), env)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	fields := FieldErrors(err)
	var names []string
	for _, f := range fields {
		names = append(names, f.Field)
	}
	assert.Contains(t, names, "summary")
	assert.Contains(t, names, "payload")

	head, _ := mem.Head(context.Background())
	assert.Zero(t, head)
}

func TestRecordMissingPayloadReportedWithEnvelopeFields(t *testing.T) {
	rec, _ := newRecorder(t)
	env := ideaEnvelope(`null`)
	env.Source = ""

	_, err := rec.Record(context.Background(), env)
	require.Error(t, err)
	assert.ElementsMatch(t, []sot.FieldError{
		{Field: "source", Message: "is required"},
		{Field: "payload", Message: "payload is required for dct kinds"},
	}, FieldErrors(err))
}

func TestRecorderDefaultLoggerIsNotTheGlobalOne(t *testing.T) {
	rec := NewRecorder(store.NewMemoryStore(), NewResolver(store.NewMemoryStore()))
	logger, ok := rec.logger.(*logrus.Logger)
	require.True(t, ok)
	assert.NotSame(t, logrus.StandardLogger(), logger)
	assert.Equal(t, io.Discard, logger.Out)
}
