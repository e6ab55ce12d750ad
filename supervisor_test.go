package fetchqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaykit/fetchqueue"
)

// Supervisor owns a real *redis.Client; a full run-loop exercise needs a
// live Redis instance and belongs in an external integration suite, not
// here. These tests cover what's reachable without one: construction,
// validation, and the Stats/Messages wiring.

func TestNewSupervisorRejectsInvalidConfig(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	config := fetchqueue.DefaultConfig(logger)
	// WorkQueue/WorkingQueue/CompleteQueue and ConnFactory deliberately left unset

	_, err := fetchqueue.NewSupervisor(config)
	assert.Error(t, err)
}

func TestNewSupervisorAppliesChannelCapacityDefaults(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	config := validConfig(logger)
	config.MessageChannelCapacity = 0
	config.ConsumerQueueLimit = 0

	sup, err := fetchqueue.NewSupervisor(config)
	require.NoError(t, err)
	require.NotNil(t, sup)
	assert.Equal(t, 100, cap(sup.Messages()), "MessageChannelCapacity 0 falls back to 100")

	stats := sup.Stats()
	assert.Equal(t, fetchqueue.Stats{}, stats, "a fresh supervisor reports zero counters")
}

func TestSupervisorMessagesChannelIsOpenBeforeRun(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	config := validConfig(logger)

	sup, err := fetchqueue.NewSupervisor(config)
	require.NoError(t, err)

	select {
	case _, ok := <-sup.Messages():
		assert.True(t, ok, "Messages channel should not be closed before Run")
	case <-time.After(50 * time.Millisecond):
		// no message pending, which is also a valid "open but empty" state
	}
}

func TestSupervisorRunReturnsAfterContextCancellation(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	config := validConfig(logger)
	config.ShutdownGrace = 50 * time.Millisecond

	sup, err := fetchqueue.NewSupervisor(config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after its context was cancelled")
	}
}
