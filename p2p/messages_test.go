package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGossipMessageRoundTrip(t *testing.T) {
	m := &GossipMessage{Kind: GossipNewTx, NewTx: &Transaction{ID: "tx1", Payload: []byte("hello")}}

	data, id, err := marshalGossipMessage(m)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	decoded, err := unmarshalGossipMessage(data)
	require.NoError(t, err)
	assert.Equal(t, m.Kind, decoded.Kind)
	assert.Equal(t, m.NewTx.ID, decoded.NewTx.ID)
	assert.Equal(t, m.NewTx.Payload, decoded.NewTx.Payload)
}

func TestMessageIDIsContentAddressedNotSenderDependent(t *testing.T) {
	m := &GossipMessage{Kind: GossipNewTx, NewTx: &Transaction{ID: "tx1", Payload: []byte("hello")}}

	_, id1, err := marshalGossipMessage(m)
	require.NoError(t, err)

	_, id2, err := marshalGossipMessage(m)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestTopicBaseRequiresMatchingPayload(t *testing.T) {
	m := &GossipMessage{Kind: GossipNewTx}

	_, err := m.topicBase()
	assert.Error(t, err)
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "new_tx/devnet", topicName(baseTopicNewTx, "devnet"))
}

func TestResponseMatches(t *testing.T) {
	resp := &ResponseMessage{Kind: KindSealedHeaders}
	assert.True(t, resp.Matches(KindSealedHeaders))
	assert.False(t, resp.Matches(KindTransactions))
}

func TestRangeLen(t *testing.T) {
	assert.Equal(t, 5, Range{Start: 10, End: 15}.Len())
	assert.Equal(t, 0, Range{Start: 10, End: 10}.Len())
	assert.Equal(t, 0, Range{Start: 10, End: 5}.Len())
}
