package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	evt := NewBaseEvent(EventTypeEntityMerged, "t1", "c1")

	assert.Equal(t, EventTypeEntityMerged, evt.EventType)
	assert.Equal(t, SchemaVersion, evt.SchemaVersion)
	assert.Equal(t, "t1", evt.TenantID)
	assert.Equal(t, "c1", evt.CorpusID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.NotEmpty(t, evt.CorrelationID)

	other := NewBaseEvent(EventTypeEntityMerged, "t1", "c1")
	assert.NotEqual(t, evt.CorrelationID, other.CorrelationID)
}

func TestEntityMergedEventWire(t *testing.T) {
	evt := EntityMergedEvent{
		BaseEvent:      NewBaseEvent(EventTypeEntityMerged, "t1", "c1"),
		SourceEntityID: "e-src",
		TargetEntityID: "e-dst",
		CanonicalName:  "Jane Marie Smith",
		Confidence:     0.92,
		Method:         "automatic",
		LogID:          "log-1",
	}

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "entity.merged", decoded["event_type"])
	assert.Equal(t, "e-src", decoded["source_entity_id"])
	assert.Equal(t, "e-dst", decoded["target_entity_id"])
	assert.Equal(t, "1.0", decoded["schema_version"])
}
