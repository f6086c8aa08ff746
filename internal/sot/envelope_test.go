package sot

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() Envelope {
	return Envelope{
		Version: Version,
		TS:      "2025-03-01T12:00:00.123Z",
		Source:  " portal ",
		Kind:    "dct.idea-create",
		Summary: "create goal",
		Payload: json.RawMessage(`{"ideaId":"a","text":"t"}`),
	}
}

func TestValidateEnvelopeNormalizes(t *testing.T) {
	got, warnings, err := ValidateEnvelope(validEnvelope())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "portal", got.Source)
	assert.Equal(t, "", got.NhID)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 123_000_000, time.UTC), got.TS)
	assert.JSONEq(t, `{"ideaId":"a","text":"t"}`, string(got.Payload))
}

func TestValidateEnvelopeListsEveryMissingField(t *testing.T) {
	_, _, err := ValidateEnvelope(Envelope{Source: "  ", Summary: "x"})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"ts", "source", "kind"}, fields)
}

func TestValidateEnvelopeRejectsBadTimestamp(t *testing.T) {
	env := validEnvelope()
	env.TS = "yesterday"

	_, _, err := ValidateEnvelope(env)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "ts", verr.Fields[0].Field)
}

func TestValidateEnvelopeVersionMismatchOnlyWarns(t *testing.T) {
	env := validEnvelope()
	env.Version = "sot-event-0.2"

	_, warnings, err := ValidateEnvelope(env)

	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "sot-event-0.2")
}

func TestValidateEnvelopeNullPayloadIsAbsent(t *testing.T) {
	env := validEnvelope()
	env.Payload = json.RawMessage(`null`)

	got, _, err := ValidateEnvelope(env)

	require.NoError(t, err)
	assert.Nil(t, got.Payload)

	env.Payload = json.RawMessage(`{}`)
	got, _, err = ValidateEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{}`), got.Payload)
}

func TestValidateEnvelopeRejectsNonPositiveIDs(t *testing.T) {
	env := validEnvelope()
	zero := int64(0)
	env.RepoID = &zero

	_, _, err := ValidateEnvelope(env)

	assert.ErrorContains(t, err, "repoId")
}

func TestParseTimestampLayouts(t *testing.T) {
	cases := map[string]time.Time{
		"2025-03-01T12:00:00Z":           time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		"2025-03-01T14:00:00+02:00":      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		"2025-03-01T12:00:00.5":          time.Date(2025, 3, 1, 12, 0, 0, 500_000_000, time.UTC),
		"2025-03-01":                     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		"2025-03-01T12:00:00.123456789Z": time.Date(2025, 3, 1, 12, 0, 0, 123_000_000, time.UTC),
	}
	for input, want := range cases {
		got, err := ParseTimestamp(input)
		require.NoError(t, err, input)
		assert.True(t, want.Equal(got), "%s: got %s", input, got)
	}

	_, err := ParseTimestamp("03/01/2025")
	assert.Error(t, err)
}

func TestParseBatchNDJSON(t *testing.T) {
	body := strings.Join([]string{
		`{"ts":"2025-03-01T00:00:00Z","source":"a","kind":"k","summary":"s"}`,
		``,
		`not json`,
		`{"ts":"2025-03-02T00:00:00Z","source":"b","kind":"k","summary":"s"}`,
	}, "\n")

	items, err := ParseBatch([]byte(body))

	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].Envelope.Source)
	assert.Error(t, items[1].Err)
	assert.Equal(t, 2, items[2].Index)
	assert.Equal(t, "b", items[2].Envelope.Source)
}

func TestParseBatchArray(t *testing.T) {
	items, err := ParseBatch([]byte(`[{"source":"a"},{"source":"b"}]`))

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[1].Envelope.Source)
}

func TestParseBatchLimits(t *testing.T) {
	_, err := ParseBatch([]byte("  "))
	assert.Error(t, err)

	_, err = ParseBatch([]byte(`[]`))
	assert.Error(t, err)

	lines := make([]string, MaxBatch+1)
	for i := range lines {
		lines[i] = `{"source":"a"}`
	}
	_, err = ParseBatch([]byte(strings.Join(lines, "\n")))
	assert.ErrorContains(t, err, "limit is 500")
}
