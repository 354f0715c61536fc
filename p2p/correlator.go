package p2p

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rpc "github.com/libp2p/go-libp2p-gorpc"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// typeMismatchMarker is the substring every p2pAPI method's mismatch error
// carries, letting the dialing side tell "remote answered with the wrong
// variant" apart from an ordinary RPC/transport failure once gorpc has
// flattened the remote error down to its message text (§4.3).
const typeMismatchMarker = "type mismatch"

const (
	// p2pRPCProtocol is the gorpc protocol id for the Request/Response
	// Correlator, grounded on the teacher's rpc.go Protocol constant.
	p2pRPCProtocol = protocol.ID("/fuelnet-p2p/reqresp/1.0.0")
	p2pRPCService  = "P2PAPI"

	// inboundTimeout bounds how long an inbound request waits for the
	// embedder's Node.SendResponse before the correlator drops it
	// silently, per §4.3 ("the remote will time out on its side").
	inboundTimeout = 15 * time.Second

	maxOutboundPending = 10000
)

// inboundEvent is handed from a P2PAPI method to the driver loop.
type inboundEvent struct {
	id  RequestID
	req RequestMessage
}

// RequestResult is delivered to a reply slot exactly once (§4.3).
type RequestResult struct {
	Peer     PeerID
	Response *ResponseMessage
	Err      error
}

// ReplySlot is the caller-owned one-shot channel a request's eventual
// outcome is delivered to.
type ReplySlot chan RequestResult

// outboundEntry is the correlator's bookkeeping for one pending outbound
// request (§3 OutboundRequest / §4.3 state machine).
type outboundEntry struct {
	id    RequestID
	peer  PeerID
	kind  RequestKind
	reply ReplySlot
}

// outboundDone is handed from a per-request goroutine (running the actual
// gorpc call) back to the driver loop once it resolves.
type outboundDone struct {
	id       RequestID
	peer     PeerID
	response *ResponseMessage
	err      error
}

// correlator implements the Request/Response layer (§4.3): outbound
// requests tracked with a deadline and a one-shot reply slot, inbound
// requests surfaced to the embedder and answered asynchronously via
// SendResponse. All table mutation happens on the driver goroutine; the
// inboundMu mutex below only bridges gorpc's own server goroutines (one
// per inbound stream) into that table.
type correlator struct {
	host host.Host

	rpcServer *rpc.Server
	rpcClient *rpc.Client

	nextID    uint64
	outbound  map[RequestID]*outboundEntry
	deadlines *deadlineQueue

	inboundMu      sync.Mutex
	inboundPending map[RequestID]chan *ResponseMessage

	inboundCh    chan inboundEvent
	outboundDone chan outboundDone
}

func newCorrelator(h host.Host) (*correlator, error) {
	c := &correlator{
		host:           h,
		outbound:       make(map[RequestID]*outboundEntry),
		deadlines:      newDeadlineQueue(),
		inboundPending: make(map[RequestID]chan *ResponseMessage),
		inboundCh:      make(chan inboundEvent, 256),
		outboundDone:   make(chan outboundDone, 256),
	}

	c.rpcServer = rpc.NewServer(h, p2pRPCProtocol)

	if err := c.rpcServer.RegisterName(p2pRPCService, &p2pAPI{c: c}); err != nil {
		return nil, fmt.Errorf("failed to register p2p rpc service: %w", err)
	}

	c.rpcClient = rpc.NewClientWithServer(h, p2pRPCProtocol, c.rpcServer)

	return c, nil
}

// p2pAPI is the gorpc service exposing one method per RequestMessage
// variant (§4.3), grounded on the teacher's RPCAPI (Lookup/Pull/List).
type p2pAPI struct {
	c *correlator
}

func (a *p2pAPI) SealedHeaders(ctx context.Context, in *Range, out *[]SealedHeader) error {
	resp, err := a.c.handleInbound(ctx, RequestMessage{Kind: KindSealedHeaders, SealedHeaders: *in})
	if err != nil {
		return err
	}

	if resp.Kind != KindSealedHeaders {
		return fmt.Errorf("type mismatch: expected sealed_headers response")
	}

	*out = resp.SealedHeaders

	return nil
}

func (a *p2pAPI) Transactions(ctx context.Context, in *Range, out *[]Transaction) error {
	resp, err := a.c.handleInbound(ctx, RequestMessage{Kind: KindTransactions, Transactions: *in})
	if err != nil {
		return err
	}

	if resp.Kind != KindTransactions {
		return fmt.Errorf("type mismatch: expected transactions response")
	}

	*out = resp.Transactions

	return nil
}

func (a *p2pAPI) TxPoolAllTransactionIds(ctx context.Context, in *struct{}, out *[]TxID) error {
	resp, err := a.c.handleInbound(ctx, RequestMessage{Kind: KindTxPoolAllTransactionIds})
	if err != nil {
		return err
	}

	if resp.Kind != KindTxPoolAllTransactionIds {
		return fmt.Errorf("type mismatch: expected tx_pool_all_transaction_ids response")
	}

	*out = resp.TxPoolAllIds

	return nil
}

func (a *p2pAPI) TxPoolFullTransactions(ctx context.Context, in *[]TxID, out *[]Transaction) error {
	resp, err := a.c.handleInbound(ctx, RequestMessage{Kind: KindTxPoolFullTransactions, TxPoolFullTransactionIds: *in})
	if err != nil {
		return err
	}

	if resp.Kind != KindTxPoolFullTransactions {
		return fmt.Errorf("type mismatch: expected tx_pool_full_transactions response")
	}

	*out = resp.TxPoolFullTransactions

	return nil
}

// handleInbound registers a pending reply channel, surfaces the request to
// the driver loop as InboundRequestMessage, and blocks until
// Node.SendResponse resolves it or the inbound timeout elapses — at which
// point the request is dropped silently and the remote observes an
// ordinary RPC timeout (§4.3).
func (c *correlator) handleInbound(ctx context.Context, req RequestMessage) (*ResponseMessage, error) {
	id := RequestID(atomic.AddUint64(&c.nextID, 1))

	respCh := make(chan *ResponseMessage, 1)

	c.inboundMu.Lock()
	c.inboundPending[id] = respCh
	c.inboundMu.Unlock()

	defer func() {
		c.inboundMu.Lock()
		delete(c.inboundPending, id)
		c.inboundMu.Unlock()
	}()

	select {
	case c.inboundCh <- inboundEvent{id: id, req: req}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-time.After(inboundTimeout):
		return nil, fmt.Errorf("inbound request timed out waiting for a response")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliverResponse routes an embedder-supplied response to its waiting
// gorpc handler, called from the driver loop when it processes a
// SendResponse command. Returns false if no such inbound request is
// pending (already timed out, already answered, or unknown id).
func (c *correlator) deliverResponse(id RequestID, resp *ResponseMessage) bool {
	c.inboundMu.Lock()
	ch, ok := c.inboundPending[id]
	c.inboundMu.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- resp:
		return true
	default:
		return false
	}
}

// issue registers an outbound request's bookkeeping entry and spawns the
// goroutine that performs the actual gorpc call, run under a context
// carrying the same deadline as the bookkeeping entry so the network call
// and the table entry expire together (§4.3, §5).
func (c *correlator) issue(ctx context.Context, target PeerID, req RequestMessage, reply ReplySlot, deadline time.Time) RequestID {
	id := RequestID(atomic.AddUint64(&c.nextID, 1))

	c.outbound[id] = &outboundEntry{id: id, peer: target, kind: req.Kind, reply: reply}
	c.deadlines.insert(id, deadline)

	go func() {
		callCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()

		resp, err := c.call(callCtx, target, req)

		select {
		case c.outboundDone <- outboundDone{id: id, peer: target, response: resp, err: err}:
		case <-callCtx.Done():
		}
	}()

	return id
}

func (c *correlator) call(ctx context.Context, target PeerID, req RequestMessage) (*ResponseMessage, error) {
	switch req.Kind {
	case KindSealedHeaders:
		var out []SealedHeader
		if err := c.rpcClient.CallContext(ctx, target, p2pRPCService, "SealedHeaders", &req.SealedHeaders, &out); err != nil {
			return nil, translateCallError("sealed_headers", err)
		}

		return &ResponseMessage{Kind: KindSealedHeaders, SealedHeaders: out}, nil

	case KindTransactions:
		var out []Transaction
		if err := c.rpcClient.CallContext(ctx, target, p2pRPCService, "Transactions", &req.Transactions, &out); err != nil {
			return nil, translateCallError("transactions", err)
		}

		return &ResponseMessage{Kind: KindTransactions, Transactions: out}, nil

	case KindTxPoolAllTransactionIds:
		var out []TxID
		in := struct{}{}
		if err := c.rpcClient.CallContext(ctx, target, p2pRPCService, "TxPoolAllTransactionIds", &in, &out); err != nil {
			return nil, translateCallError("tx_pool_all_transaction_ids", err)
		}

		return &ResponseMessage{Kind: KindTxPoolAllTransactionIds, TxPoolAllIds: out}, nil

	case KindTxPoolFullTransactions:
		var out []Transaction
		if err := c.rpcClient.CallContext(ctx, target, p2pRPCService, "TxPoolFullTransactions", &req.TxPoolFullTransactionIds, &out); err != nil {
			return nil, translateCallError("tx_pool_full_transactions", err)
		}

		return &ResponseMessage{Kind: KindTxPoolFullTransactions, TxPoolFullTransactions: out}, nil

	default:
		return nil, fmt.Errorf("unknown request kind %d", req.Kind)
	}
}

// translateCallError turns a gorpc call failure into a ResponseError when
// the remote's own error text marks it as a variant mismatch, so the
// requester sees ResponseTypeMismatch instead of an opaque timeout (§4.3,
// §7 scenario 5). Any other failure is wrapped as an ordinary error and
// later surfaces as ResponseTimeout.
func translateCallError(op string, err error) error {
	if strings.Contains(err.Error(), typeMismatchMarker) {
		return newResponseError(ResponseTypeMismatch)
	}

	return fmt.Errorf("%s call failed: %w", op, err)
}

// removeOutbound removes an outbound entry if it still exists, enforcing
// "at most one removal per id" (Invariant 5) since every caller — response
// arrival, timeout tick, or peer disconnect — goes through this one
// driver-goroutine-only function.
func (c *correlator) removeOutbound(id RequestID) *outboundEntry {
	e, ok := c.outbound[id]
	if !ok {
		return nil
	}

	delete(c.outbound, id)
	c.deadlines.remove(id)

	return e
}

// outboundByPeer returns every still-pending outbound request targeting a
// given peer, used to cancel them on disconnect.
func (c *correlator) outboundByPeer(p PeerID) []RequestID {
	var ids []RequestID

	for id, e := range c.outbound {
		if e.peer == p {
			ids = append(ids, id)
		}
	}

	return ids
}

func (c *correlator) pendingCount() int { return len(c.outbound) }

// pickRandomPeer selects a peer uniformly at random from the supplied
// eligible set, used when send_request's target is nil (§4.3).
func pickRandomPeer(eligible []PeerID) (PeerID, bool) {
	if len(eligible) == 0 {
		var zero PeerID

		return zero, false
	}

	return eligible[rand.Intn(len(eligible))], true //nolint:gosec
}
