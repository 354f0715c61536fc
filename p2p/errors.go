// Package p2p implements a gossip and request/response overlay network for
// a blockchain node, built on go-libp2p.
package p2p

import "errors"

// PublishReason tags the kind of failure returned by Node.Publish.
type PublishReason int

const (
	_ PublishReason = iota
	// PublishDuplicate means the message id was already seen within the
	// local dedup window.
	PublishDuplicate
	// PublishFull means the outbound publish queue is saturated.
	PublishFull
	// PublishNotSubscribed means the local node has not subscribed to the
	// topic the request would publish to.
	PublishNotSubscribed
	// PublishTransport wraps an underlying transport failure.
	PublishTransport
)

func (r PublishReason) String() string {
	switch r {
	case PublishDuplicate:
		return "duplicate"
	case PublishFull:
		return "full"
	case PublishNotSubscribed:
		return "not_subscribed"
	case PublishTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// PublishError is returned by Node.Publish.
type PublishError struct {
	Reason PublishReason
	Err    error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return "publish: " + e.Reason.String() + ": " + e.Err.Error()
	}

	return "publish: " + e.Reason.String()
}

func (e *PublishError) Unwrap() error { return e.Err }

// Is matches another *PublishError by reason, ignoring the wrapped cause.
func (e *PublishError) Is(target error) bool {
	var other *PublishError
	if errors.As(target, &other) {
		return other.Reason == e.Reason
	}

	return false
}

func newPublishError(reason PublishReason) *PublishError {
	return &PublishError{Reason: reason}
}

// SendReason tags the kind of failure returned by Node.SendRequest.
type SendReason int

const (
	_ SendReason = iota
	// SendNoEligiblePeer means no connected, non-banned peer was available
	// to target, or the requested target is banned. An explicit target is
	// not checked for being connected.
	SendNoEligiblePeer
	// SendFull means the outbound request table is saturated.
	SendFull
	// SendClosed means the driver has shut down.
	SendClosed
)

func (r SendReason) String() string {
	switch r {
	case SendNoEligiblePeer:
		return "no_eligible_peer"
	case SendFull:
		return "full"
	case SendClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendError is returned by Node.SendRequest.
type SendError struct {
	Reason SendReason
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return "send_request: " + e.Reason.String() + ": " + e.Err.Error()
	}

	return "send_request: " + e.Reason.String()
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool {
	var other *SendError
	if errors.As(target, &other) {
		return other.Reason == e.Reason
	}

	return false
}

func newSendError(reason SendReason) *SendError {
	return &SendError{Reason: reason}
}

// ResponseReason tags why an outbound request did not complete with a
// matching response.
type ResponseReason int

const (
	_ ResponseReason = iota
	// ResponseTypeMismatch means the response variant did not match the
	// request variant. Does not ban the remote (a protocol upgrade may
	// legitimately introduce mismatches) but does apply a small score
	// penalty.
	ResponseTypeMismatch
	// ResponseTimeout means the request's deadline elapsed before a
	// response arrived.
	ResponseTimeout
	// ResponsePeerDisconnected means the target peer disconnected while
	// the request was outstanding.
	ResponsePeerDisconnected
	// ResponseShutdown means the driver was torn down while the request
	// was outstanding.
	ResponseShutdown
	// ResponseProtocolViolation means the remote sent a malformed or
	// oversized frame.
	ResponseProtocolViolation
)

func (r ResponseReason) String() string {
	switch r {
	case ResponseTypeMismatch:
		return "type_mismatch"
	case ResponseTimeout:
		return "timeout"
	case ResponsePeerDisconnected:
		return "peer_disconnected"
	case ResponseShutdown:
		return "shutdown"
	case ResponseProtocolViolation:
		return "protocol_violation"
	default:
		return "unknown"
	}
}

// ResponseError is the error half of a Response result delivered to a
// reply slot.
type ResponseError struct {
	Reason ResponseReason
	Err    error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return "response: " + e.Reason.String() + ": " + e.Err.Error()
	}

	return "response: " + e.Reason.String()
}

func (e *ResponseError) Unwrap() error { return e.Err }

func (e *ResponseError) Is(target error) bool {
	var other *ResponseError
	if errors.As(target, &other) {
		return other.Reason == e.Reason
	}

	return false
}

func newResponseError(reason ResponseReason) *ResponseError {
	return &ResponseError{Reason: reason}
}

// AdmissionReason tags why the Peer Manager rejected a connecting peer.
type AdmissionReason int

const (
	_ AdmissionReason = iota
	// AdmissionCapacityFull means the relevant class (Discovered or
	// Bootstrap) has no free slot.
	AdmissionCapacityFull
	// AdmissionReservedOnlyMode means reserved_nodes_only_mode is set and
	// the peer is not Reserved.
	AdmissionReservedOnlyMode
	// AdmissionSelfDial means the remote peer id equals the local peer id.
	AdmissionSelfDial
	// AdmissionBannedPeer means the peer was previously banned and the
	// ban has not lingered out.
	AdmissionBannedPeer
)

func (r AdmissionReason) String() string {
	switch r {
	case AdmissionCapacityFull:
		return "capacity_full"
	case AdmissionReservedOnlyMode:
		return "reserved_only_mode"
	case AdmissionSelfDial:
		return "self_dial"
	case AdmissionBannedPeer:
		return "banned_peer"
	default:
		return "unknown"
	}
}

// AdmissionReject explains why on_connection_established rejected a peer.
type AdmissionReject struct {
	Reason AdmissionReason
}

func (e *AdmissionReject) Error() string {
	return "admission rejected: " + e.Reason.String()
}

// errSubscriptionClosed is returned by PreConfirmationSubscription.Next
// once the subscription has been closed.
var errSubscriptionClosed = errors.New("subscription closed")

// ErrClosed is returned by Node methods once Close has been called.
var ErrClosed = errors.New("node closed")
