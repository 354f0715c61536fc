package p2p

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Topic is a named broadcast channel. The wire name is the base topic
// suffixed with the network name so nodes on different networks never
// share a topic (§3).
type Topic string

const (
	baseTopicNewTx               = "new_tx"
	baseTopicTxPreConfirmations  = "tx_preconfirmations"
)

// topicName derives the wire topic string for a base topic under a given
// network name, per "{base_topic}/{network_name}" (§4.2).
func topicName(base, networkName string) string {
	return fmt.Sprintf("%s/%s", base, networkName)
}

// SealedHeader is an opaque block header payload. The P2P core never
// interprets its contents beyond routing them; Application and Consensus
// are carried as opaque sub-payloads supplied by the embedder.
type SealedHeader struct {
	Height      uint32
	Application []byte
	Consensus   []byte
}

// Transaction is an opaque transaction payload.
type Transaction struct {
	ID      TxID
	Payload []byte
}

// GossipPayloadKind tags the variant carried by a GossipMessage.
type GossipPayloadKind int

const (
	// GossipNewTx carries a single newly submitted transaction.
	GossipNewTx GossipPayloadKind = iota
	// GossipPreConfirmation carries a transaction pre-confirmation
	// status update.
	GossipPreConfirmation
)

// PreConfirmationMessage is the pre-confirmation gossip payload consumed by
// the tx-status subscription surface (component C, out of scope here beyond
// routing).
type PreConfirmationMessage struct {
	TxID      TxID
	Signature []byte
	Payload   []byte
}

// GossipMessage is the tagged variant published and delivered by the
// Gossip Layer (§3).
type GossipMessage struct {
	Kind            GossipPayloadKind
	NewTx           *Transaction
	PreConfirmation *PreConfirmationMessage
}

func (m *GossipMessage) topicBase() (string, error) {
	switch m.Kind {
	case GossipNewTx:
		if m.NewTx == nil {
			return "", fmt.Errorf("new_tx message missing payload")
		}

		return baseTopicNewTx, nil
	case GossipPreConfirmation:
		if m.PreConfirmation == nil {
			return "", fmt.Errorf("preconfirmation message missing payload")
		}

		return baseTopicTxPreConfirmations, nil
	default:
		return "", fmt.Errorf("unknown gossip message kind %d", m.Kind)
	}
}

// wireGossipMessage is the JSON wire envelope for a GossipMessage,
// mirroring the teacher's RecordPublishEvent marshal/unmarshal convention.
type wireGossipMessage struct {
	Kind            GossipPayloadKind       `json:"kind"`
	NewTx           *Transaction            `json:"new_tx,omitempty"`
	PreConfirmation *PreConfirmationMessage `json:"preconfirmation,omitempty"`
}

// marshalGossipMessage serializes a GossipMessage to its wire form and
// computes its content-derived message id in one step, since both need the
// same canonical bytes.
func marshalGossipMessage(m *GossipMessage) ([]byte, MessageID, error) {
	wire := wireGossipMessage{Kind: m.Kind, NewTx: m.NewTx, PreConfirmation: m.PreConfirmation}

	data, err := json.Marshal(&wire)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal gossip message: %w", err)
	}

	return data, messageIDFromPayload(data), nil
}

func unmarshalGossipMessage(data []byte) (*GossipMessage, error) {
	var wire wireGossipMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gossip message: %w", err)
	}

	return &GossipMessage{Kind: wire.Kind, NewTx: wire.NewTx, PreConfirmation: wire.PreConfirmation}, nil
}

// messageIDFromPayload computes the deterministic, sender-independent
// message id used for dedup (Invariant 6).
func messageIDFromPayload(payload []byte) MessageID {
	sum := sha256.Sum256(payload)

	return MessageID(fmt.Sprintf("%x", sum))
}

// RequestKind tags the variant carried by a RequestMessage / ResponseMessage
// pair (§3).
type RequestKind int

const (
	KindSealedHeaders RequestKind = iota
	KindTransactions
	KindTxPoolAllTransactionIds
	KindTxPoolFullTransactions
)

func (k RequestKind) String() string {
	switch k {
	case KindSealedHeaders:
		return "sealed_headers"
	case KindTransactions:
		return "transactions"
	case KindTxPoolAllTransactionIds:
		return "tx_pool_all_transaction_ids"
	case KindTxPoolFullTransactions:
		return "tx_pool_full_transactions"
	default:
		return "unknown"
	}
}

// RequestMessage is the tagged variant of an inbound or outbound request
// (§3). Exactly one of the per-variant fields is populated, matching Kind.
type RequestMessage struct {
	Kind                     RequestKind
	SealedHeaders            Range
	Transactions             Range
	TxPoolFullTransactionIds []TxID
}

// ResponseMessage mirrors RequestMessage's variants. Only the payload field
// matching Kind crosses the wire: Err is not transmitted, so a response
// delivered to a reply slot never has Err set, and a remote failure reaches
// the requester as a ResponseError instead.
type ResponseMessage struct {
	Kind                 RequestKind
	SealedHeaders        []SealedHeader
	Transactions         []Transaction
	TxPoolAllIds         []TxID
	TxPoolFullTransactions []Transaction
	Err                  string
}

// Matches reports whether the response variant matches the request variant
// it is meant to answer (used to derive ResponseTypeMismatch, §4.3).
func (r *ResponseMessage) Matches(reqKind RequestKind) bool {
	return r.Kind == reqKind
}
