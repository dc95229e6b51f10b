package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderHits(t *testing.T) {
	recorder := NewInMemoryRecorder()

	recorder.RecordHit("processedAuction")
	recorder.RecordHit("processedAuction")
	recorder.RecordHit("bidResult.%s.delivered", "WIN")

	assert.Equal(t, uint64(2), recorder.HitCount("processedAuction"))
	assert.Equal(t, uint64(1), recorder.HitCount("bidResult.WIN.delivered"))
	assert.Equal(t, uint64(0), recorder.HitCount("unknown"))
}

func TestRecorderOutcomes(t *testing.T) {
	recorder := NewInMemoryRecorder()

	recorder.RecordOutcome(10, "accounts.%s.winPrice.%s", "network.c1", "USD")
	recorder.RecordOutcome(4, "accounts.%s.winPrice.%s", "network.c1", "USD")
	recorder.RecordOutcome(7, "accounts.%s.winPrice.%s", "network.c1", "USD")

	_, outcomes := recorder.Snapshot()
	stats, ok := outcomes["accounts.network.c1.winPrice.USD"]
	require.True(t, ok)
	assert.Equal(t, uint64(3), stats.Count)
	assert.Equal(t, 21.0, stats.Sum)
	assert.Equal(t, 4.0, stats.Min)
	assert.Equal(t, 10.0, stats.Max)
}

func TestRecorderSnapshotIsACopy(t *testing.T) {
	recorder := NewInMemoryRecorder()
	recorder.RecordHit("processedWin")

	hits, _ := recorder.Snapshot()
	hits["processedWin"] = 99

	assert.Equal(t, uint64(1), recorder.HitCount("processedWin"))
}
