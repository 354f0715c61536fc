package p2p_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fuellabs-go/fuelnet-p2p/p2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNode boots a Node on a loopback address, optionally dialing the
// supplied bootstrap peers, mirroring the teacher's startTestNode helper.
func startTestNode(ctx context.Context, t *testing.T, networkName string, bootstrap []string) *p2p.Node {
	t.Helper()

	return startTestNodeWithConfig(ctx, t, func(cfg *p2p.Config) {
		cfg.NetworkName = networkName
		cfg.BootstrapNodes = bootstrap
	})
}

func startTestNodeWithConfig(ctx context.Context, t *testing.T, mutate func(*p2p.Config)) *p2p.Node {
	t.Helper()

	cfg := &p2p.Config{
		ListenAddresses:   []string{"/ip4/127.0.0.1/tcp/0"},
		EnableMDNS:        false,
		SetRequestTimeout: time.Second,
	}

	mutate(cfg)

	node, err := p2p.New(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = node.Close() })

	return node
}

func addrInfoString(t *testing.T, n *p2p.Node) string {
	t.Helper()

	addrs := n.Addrs()
	require.NotEmpty(t, addrs)

	return fmt.Sprintf("%s/p2p/%s", addrs[0].String(), n.ID().String())
}

func TestTwoNodesConnectAndExchangeHeartbeat(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := startTestNodeWithConfig(ctx, t, func(cfg *p2p.Config) {
		cfg.NetworkName = "devnet"
		cfg.HeartbeatInterval = 200 * time.Millisecond
	})
	b := startTestNodeWithConfig(ctx, t, func(cfg *p2p.Config) {
		cfg.NetworkName = "devnet"
		cfg.BootstrapNodes = []string{addrInfoString(t, a)}
		cfg.HeartbeatInterval = 200 * time.Millisecond
	})

	b.UpdateBlockHeight(42)

	connected, infoUpdated := false, false

	for i := 0; i < 200 && (!connected || !infoUpdated); i++ {
		ev, err := a.NextEvent(ctx)
		require.NoError(t, err)

		switch {
		case ev.Kind == p2p.EventPeerConnected && ev.Peer == b.ID():
			connected = true
		case ev.Kind == p2p.EventPeerInfoUpdated && ev.Peer == b.ID() && ev.PeerInfo != nil && ev.PeerInfo.Heartbeat != nil && ev.PeerInfo.Heartbeat.BlockHeight == 42:
			infoUpdated = true
		}
	}

	assert.True(t, connected, "expected node a to observe node b connecting")
	assert.True(t, infoUpdated, "expected node a to observe node b's heartbeat-reported block height")
}

func TestGossipSurfacesMessagesForAcceptAndRejectVerdicts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a := startTestNode(ctx, t, "devnet", nil)
	bootAddr := addrInfoString(t, a)

	b := startTestNode(ctx, t, "devnet", []string{bootAddr})
	c := startTestNode(ctx, t, "devnet", []string{bootAddr})

	waitForConnection(ctx, t, a, b.ID())
	waitForConnection(ctx, t, a, c.ID())
	waitForConnection(ctx, t, b, c.ID())

	msg := &p2p.GossipMessage{Kind: p2p.GossipNewTx, NewTx: &p2p.Transaction{ID: "tx-accept", Payload: []byte("payload")}}
	require.NoError(t, b.Publish(ctx, msg))

	ev := waitForGossip(ctx, t, c, "tx-accept")
	c.ReportMessageValidation(ev.GossipMessageID, p2p.Accept)

	reject := &p2p.GossipMessage{Kind: p2p.GossipNewTx, NewTx: &p2p.Transaction{ID: "tx-reject", Payload: []byte("bad")}}
	require.NoError(t, b.Publish(ctx, reject))

	ev2 := waitForGossip(ctx, t, c, "tx-reject")
	c.ReportMessageValidation(ev2.GossipMessageID, p2p.Reject)
}

func waitForConnection(ctx context.Context, t *testing.T, n *p2p.Node, target peer.ID) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		peers, err := n.ListPeers(ctx)
		require.NoError(t, err)

		for _, p := range peers {
			if p == target {
				return
			}
		}

		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for connection to %s", target)
}

func waitForGossip(ctx context.Context, t *testing.T, n *p2p.Node, txID p2p.TxID) p2p.Event {
	t.Helper()

	for i := 0; i < 100; i++ {
		ev, err := n.NextEvent(ctx)
		require.NoError(t, err)

		if ev.Kind == p2p.EventGossipsubMessage && ev.Message != nil && ev.Message.NewTx != nil && ev.Message.NewTx.ID == txID {
			return ev
		}
	}

	t.Fatalf("timed out waiting for gossip message %s", txID)

	return p2p.Event{}
}

func TestSealedHeadersRequestResponseRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := startTestNode(ctx, t, "devnet", nil)
	b := startTestNode(ctx, t, "devnet", []string{addrInfoString(t, a)})

	waitForConnection(ctx, t, a, b.ID())

	go func() {
		for {
			ev, err := a.NextEvent(ctx)
			if err != nil {
				return
			}

			if ev.Kind != p2p.EventInboundRequestMessage {
				continue
			}

			_ = a.SendResponse(ctx, ev.RequestID, &p2p.ResponseMessage{
				Kind:          ev.Request.Kind,
				SealedHeaders: []p2p.SealedHeader{{Height: 7, Application: []byte("app"), Consensus: []byte("cons")}},
			})

			return
		}
	}()

	reply := make(p2p.ReplySlot, 1)
	target := a.ID()

	_, err := b.SendRequest(ctx, &target, p2p.RequestMessage{Kind: p2p.KindSealedHeaders, SealedHeaders: p2p.Range{Start: 1, End: 2}}, reply)
	require.NoError(t, err)

	select {
	case res := <-reply:
		require.NoError(t, res.Err)
		require.Len(t, res.Response.SealedHeaders, 1)
		assert.Equal(t, uint32(7), res.Response.SealedHeaders[0].Height)
	case <-ctx.Done():
		t.Fatal("timed out waiting for sealed headers response")
	}
}

func TestRequestTypeMismatchReportsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := startTestNode(ctx, t, "devnet", nil)
	b := startTestNode(ctx, t, "devnet", []string{addrInfoString(t, a)})

	waitForConnection(ctx, t, a, b.ID())

	go func() {
		for {
			ev, err := a.NextEvent(ctx)
			if err != nil {
				return
			}

			if ev.Kind != p2p.EventInboundRequestMessage {
				continue
			}

			// Answer a SealedHeaders request with a Transactions response.
			_ = a.SendResponse(ctx, ev.RequestID, &p2p.ResponseMessage{Kind: p2p.KindTransactions})

			return
		}
	}()

	reply := make(p2p.ReplySlot, 1)
	target := a.ID()

	_, err := b.SendRequest(ctx, &target, p2p.RequestMessage{Kind: p2p.KindSealedHeaders, SealedHeaders: p2p.Range{Start: 1, End: 2}}, reply)
	require.NoError(t, err)

	select {
	case res := <-reply:
		require.Error(t, res.Err)
		assert.True(t, errors.Is(res.Err, &p2p.ResponseError{Reason: p2p.ResponseTypeMismatch}), "expected ResponseTypeMismatch, got %v", res.Err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for type mismatch result")
	}
}

func TestRequestTimesOutWithNoResponder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := startTestNode(ctx, t, "devnet", nil)
	b := startTestNode(ctx, t, "devnet", []string{addrInfoString(t, a)})

	waitForConnection(ctx, t, a, b.ID())

	// a never answers inbound requests, so b's request must time out.
	reply := make(p2p.ReplySlot, 1)
	target := a.ID()

	_, err := b.SendRequest(ctx, &target, p2p.RequestMessage{Kind: p2p.KindTxPoolAllTransactionIds}, reply)
	require.NoError(t, err)

	select {
	case res := <-reply:
		require.Error(t, res.Err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for timeout result")
	}
}
