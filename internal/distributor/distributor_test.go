package distributor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

type recordingNode struct {
	received []string
}

func (n *recordingNode) ProcessMessage(topic string, _ []byte, _ bool) {
	n.received = append(n.received, topic)
}

func TestArmSubscribesAndDispatchesToAllRegisteredNodes(t *testing.T) {
	broker := transport.NewMemoryBroker()
	d := New(broker, logger.Default())

	n1 := &recordingNode{}
	n2 := &recordingNode{}
	d.Register("uns/filler-1/DATA/+", 1, n1)
	d.Register("uns/filler-1/DATA/+", 1, n2)

	require.NoError(t, d.Arm(context.Background()))

	require.NoError(t, broker.Publish(context.Background(), "uns/filler-1/DATA/Fill", 1, false, []byte("payload")))

	assert.Equal(t, []string{"uns/filler-1/DATA/Fill"}, n1.received)
	assert.Equal(t, []string{"uns/filler-1/DATA/Fill"}, n2.received)
}

func TestUnarmUnsubscribesEveryPatternExactlyOnce(t *testing.T) {
	broker := transport.NewMemoryBroker()
	d := New(broker, logger.Default())

	d.Register("uns/a/DATA/#", 0, &recordingNode{})
	d.Register("uns/b/DATA/#", 0, &recordingNode{})
	require.NoError(t, d.Arm(context.Background()))
	assert.Len(t, d.ActivePatterns(), 2)

	require.NoError(t, d.Unarm())
	assert.Empty(t, d.ActivePatterns())
}

func TestRetainedMessageDeliveredOnArm(t *testing.T) {
	broker := transport.NewMemoryBroker()
	require.NoError(t, broker.Publish(context.Background(), "uns/filler-1/DATA/State", 2, true, []byte(`{"State":"IDLE"}`)))

	d := New(broker, logger.Default())
	n := &recordingNode{}
	d.Register("uns/filler-1/DATA/State", 2, n)
	require.NoError(t, d.Arm(context.Background()))

	assert.Equal(t, []string{"uns/filler-1/DATA/State"}, n.received)
}
