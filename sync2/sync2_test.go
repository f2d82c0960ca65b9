package sync2_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wireq/wireq/sync2"
)

func TestInterlockedBooleanIdempotent(t *testing.T) {
	var b sync2.InterlockedBoolean
	assert.False(t, b.TestAndSet())
	assert.True(t, b.TestAndSet())
	assert.True(t, b.TestAndSet())
	assert.True(t, b.Get())
}

func TestCounterSignalFiresAtTarget(t *testing.T) {
	c := sync2.NewCounterSignal(3)
	select {
	case <-c.Done():
		t.Fatal("fired too early")
	default:
	}
	c.Add(1)
	c.Add(1)
	select {
	case <-c.Done():
		t.Fatal("fired too early")
	default:
	}
	c.Add(1)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("did not fire")
	}
	assert.Equal(t, int64(3), c.Current())
}

func TestCounterSignalNonPositiveTargetAlreadyDone(t *testing.T) {
	c := sync2.NewCounterSignal(0)
	select {
	case <-c.Done():
	default:
		t.Fatal("should already be done")
	}
}
