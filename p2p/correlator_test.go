package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCorrelator builds a correlator with its bookkeeping tables
// initialized but no real gorpc server/client, sufficient for exercising the
// table-mutation logic that the driver goroutine drives directly.
func newTestCorrelator() *correlator {
	return &correlator{
		outbound:       make(map[RequestID]*outboundEntry),
		deadlines:      newDeadlineQueue(),
		inboundPending: make(map[RequestID]chan *ResponseMessage),
		inboundCh:      make(chan inboundEvent, 8),
		outboundDone:   make(chan outboundDone, 8),
	}
}

func TestCorrelatorHandleInboundDeliversResponse(t *testing.T) {
	c := newTestCorrelator()

	go func() {
		ev := <-c.inboundCh
		assert.Equal(t, KindTransactions, ev.req.Kind)

		delivered := c.deliverResponse(ev.id, &ResponseMessage{Kind: KindTransactions, Transactions: []Transaction{{ID: "tx1"}}})
		assert.True(t, delivered)
	}()

	resp, err := c.handleInbound(context.Background(), RequestMessage{Kind: KindTransactions, Transactions: Range{Start: 0, End: 1}})
	require.NoError(t, err)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, TxID("tx1"), resp.Transactions[0].ID)
}

func TestCorrelatorHandleInboundTimesOutWithoutResponse(t *testing.T) {
	c := newTestCorrelator()

	go func() { <-c.inboundCh }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.handleInbound(ctx, RequestMessage{Kind: KindTransactions})
	assert.Error(t, err)
}

func TestCorrelatorDeliverResponseToUnknownIDFails(t *testing.T) {
	c := newTestCorrelator()

	assert.False(t, c.deliverResponse(RequestID(999), &ResponseMessage{}))
}

func TestCorrelatorIssueAndRemoveOutbound(t *testing.T) {
	c := newTestCorrelator()
	peerA := randomPeerID(t)

	reply := make(ReplySlot, 1)
	id := c.issue(context.Background(), peerA, RequestMessage{Kind: KindSealedHeaders}, reply, time.Now().Add(time.Hour))

	assert.Equal(t, 1, c.pendingCount())

	ids := c.outboundByPeer(peerA)
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0])

	entry := c.removeOutbound(id)
	require.NotNil(t, entry)
	assert.Equal(t, peerA, entry.peer)
	assert.Equal(t, 0, c.pendingCount())

	// Removing twice is a no-op, enforcing at-most-once delivery semantics.
	assert.Nil(t, c.removeOutbound(id))
}

func TestCorrelatorOutboundByPeerOnlyMatchesTarget(t *testing.T) {
	c := newTestCorrelator()
	peerA := randomPeerID(t)
	peerB := randomPeerID(t)

	c.issue(context.Background(), peerA, RequestMessage{Kind: KindSealedHeaders}, make(ReplySlot, 1), time.Now().Add(time.Hour))
	c.issue(context.Background(), peerB, RequestMessage{Kind: KindTransactions}, make(ReplySlot, 1), time.Now().Add(time.Hour))

	assert.Len(t, c.outboundByPeer(peerA), 1)
	assert.Len(t, c.outboundByPeer(peerB), 1)
	assert.Equal(t, 2, c.pendingCount())
}

func TestPickRandomPeerEmptySet(t *testing.T) {
	_, ok := pickRandomPeer(nil)
	assert.False(t, ok)
}

func TestPickRandomPeerSingleton(t *testing.T) {
	p := randomPeerID(t)

	picked, ok := pickRandomPeer([]PeerID{p})
	assert.True(t, ok)
	assert.Equal(t, p, picked)
}

