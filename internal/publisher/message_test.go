package publisher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fichub_metadata/internal/domain"
	"fichub_metadata/internal/testutil"
)

func TestNewRecordEvent(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	m := &domain.Metadata{
		ID:         9,
		ExternalID: testutil.Ptr("aBc9"),
		Title:      "Story",
		Rated:      testutil.Ptr("M"),
		Reviews:    domain.NewCount(12),
		Source:     "https://archiveofourown.org/works/9",
	}

	created := NewRecordEvent(m, true, now)
	assert.Equal(t, ActionCreate, created.Action)
	assert.Equal(t, m.Source, created.Source)
	assert.Equal(t, int64(9), created.RecordID)
	assert.Equal(t, time.UTC, created.OccurredAt.Location())

	updated := NewRecordEvent(m, false, now)
	assert.Equal(t, ActionUpdate, updated.Action)
	assert.Equal(t, "https://archiveofourown.org/works/9", updated.Headers()["source"])
	assert.Equal(t, ActionUpdate, updated.Headers()["action"])

	body, err := json.Marshal(updated)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "update", decoded["action"])
	assert.Equal(t, "https://archiveofourown.org/works/9", decoded["source"])
	assert.Equal(t, "aBc9", decoded["fichub_id"])

	meta := decoded["metadata"].(map[string]any)
	assert.Equal(t, float64(12), meta["reviews"])
	assert.Nil(t, meta["favorites"])
}

func TestNewRecordEvent_OmitsMissingFichubID(t *testing.T) {
	event := NewRecordEvent(&domain.Metadata{Source: "https://www.fanfiction.net/s/1"}, true, time.Now())

	body, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.NotContains(t, decoded, "fichub_id")
	assert.Contains(t, decoded, "metadata")
}
