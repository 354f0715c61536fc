package p2p

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishErrorIsMatchesByReason(t *testing.T) {
	err := newPublishError(PublishDuplicate)
	assert.True(t, errors.Is(err, newPublishError(PublishDuplicate)))
	assert.False(t, errors.Is(err, newPublishError(PublishFull)))
}

func TestSendErrorIsMatchesByReason(t *testing.T) {
	err := newSendError(SendFull)
	assert.True(t, errors.Is(err, newSendError(SendFull)))
	assert.False(t, errors.Is(err, newSendError(SendClosed)))
}

func TestResponseErrorIsMatchesByReason(t *testing.T) {
	err := newResponseError(ResponseTimeout)
	assert.True(t, errors.Is(err, newResponseError(ResponseTimeout)))
	assert.False(t, errors.Is(err, newResponseError(ResponseTypeMismatch)))
}

func TestAdmissionRejectError(t *testing.T) {
	err := &AdmissionReject{Reason: AdmissionSelfDial}
	assert.Contains(t, err.Error(), "self_dial")
}
