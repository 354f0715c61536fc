package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeadlineQueueOrdering(t *testing.T) {
	q := newDeadlineQueue()

	base := time.Now()
	q.insert(RequestID(1), base.Add(3*time.Second))
	q.insert(RequestID(2), base.Add(1*time.Second))
	q.insert(RequestID(3), base.Add(2*time.Second))

	due := q.popDue(base.Add(2 * time.Second))
	assert.Equal(t, []RequestID{2, 3}, due)
	assert.Equal(t, 1, q.len())
}

func TestDeadlineQueueRemove(t *testing.T) {
	q := newDeadlineQueue()

	base := time.Now()
	q.insert(RequestID(1), base.Add(time.Second))
	q.insert(RequestID(2), base.Add(2*time.Second))

	assert.True(t, q.remove(RequestID(1)))
	assert.False(t, q.remove(RequestID(1)))

	due := q.popDue(base.Add(5 * time.Second))
	assert.Equal(t, []RequestID{2}, due)
}

func TestDeadlineQueueNextDeadline(t *testing.T) {
	q := newDeadlineQueue()

	_, ok := q.nextDeadline()
	assert.False(t, ok)

	at := time.Now().Add(time.Second)
	q.insert(RequestID(1), at)

	next, ok := q.nextDeadline()
	assert.True(t, ok)
	assert.True(t, next.Equal(at))
}
