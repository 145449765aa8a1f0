package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsOrder(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	require.NoError(t, rec.Publish(ctx, Event{Type: TypeImportRunCompleted, SubjectID: uuid.New()}))
	require.NoError(t, rec.Publish(ctx, Event{Type: TypeLeadMerged, SubjectID: uuid.New()}))

	assert.Equal(t, []string{TypeImportRunCompleted, TypeLeadMerged}, rec.Types())
}

func TestKafkaPublisherUsesTopic(t *testing.T) {
	p := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "opscrm.imports"})
	assert.Equal(t, "opscrm.imports", p.topic)
	assert.NoError(t, p.Close())
	assert.NoError(t, Noop{}.Publish(context.Background(), Event{}))
}
