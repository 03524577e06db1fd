package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := NewBatchID()
	now := time.Now().UTC()

	cases := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{"batch start", Event{BatchID: id, TS: now, Stage: StageBatchStart, Jobs: 3}, ""},
		{"job done", Event{BatchID: id, TS: now, Stage: StageJobDone, URL: "https://example.com/", Dur: time.Second}, ""},
		{"missing batch id", Event{TS: now, Stage: StageBatchStart}, "batch id is required"},
		{"missing timestamp", Event{BatchID: id, Stage: StageBatchStart}, "timestamp is required"},
		{"job without url", Event{BatchID: id, TS: now, Stage: StageJobError}, "requires a url"},
		{"unknown stage", Event{BatchID: id, TS: now, Stage: Stage("NOPE")}, `unknown stage "NOPE"`},
		{"negative duration", Event{BatchID: id, TS: now, Stage: StageBatchDone, Dur: -time.Second}, "duration must be >= 0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewBatchID(t *testing.T) {
	t.Parallel()

	a := NewBatchID()
	b := NewBatchID()
	assert.NotEqual(t, [16]byte{}, a)
	assert.NotEqual(t, a, b)

	evt := Event{BatchID: a}
	assert.Equal(t, a, [16]byte(evt.BatchUUID()))
}
