package bus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ypatiosch/coind/internal/bus"
)

func TestEmitOnlyReachesOwnParticipant(t *testing.T) {
	b := bus.New()
	var aCalls, bCalls int

	b.On("alice", bus.EventStartMining, func(payload any) { aCalls++ })
	b.On("bob", bus.EventStartMining, func(payload any) { bCalls++ })

	b.Emit("alice", bus.EventStartMining, nil)

	assert.Equal(t, 1, aCalls)
	assert.Equal(t, 0, bCalls)
}

func TestBroadcastReachesEveryParticipant(t *testing.T) {
	b := bus.New()
	var aCalls, bCalls int

	b.On("alice", bus.EventProofFound, func(payload any) { aCalls++ })
	b.On("bob", bus.EventProofFound, func(payload any) { bCalls++ })

	b.Broadcast(bus.EventProofFound, "payload")

	assert.Equal(t, 1, aCalls)
	assert.Equal(t, 1, bCalls)
}

func TestHandlersFireInRegistrationOrder(t *testing.T) {
	b := bus.New()
	var order []int

	b.On("alice", bus.EventPostTransaction, func(payload any) { order = append(order, 1) })
	b.On("alice", bus.EventPostTransaction, func(payload any) { order = append(order, 2) })
	b.On("bob", bus.EventPostTransaction, func(payload any) { order = append(order, 3) })

	b.Broadcast(bus.EventPostTransaction, nil)

	assert.Equal(t, []int{1, 2, 3}, order)
}

// A handler that re-enters the bus (as every miner handler does) must not
// deadlock: Emit/Broadcast snapshot their handler list before invoking it.
func TestHandlerMayReenterBusWithoutDeadlock(t *testing.T) {
	b := bus.New()
	reentered := false

	b.On("alice", bus.EventProofFound, func(payload any) {
		b.On("alice", bus.EventPostTransaction, func(payload any) { reentered = true })
		b.Emit("alice", bus.EventPostTransaction, nil)
	})

	b.Broadcast(bus.EventProofFound, nil)
	assert.True(t, reentered)
}

func TestPayloadDeliveredUnmodified(t *testing.T) {
	b := bus.New()
	type msg struct{ Amount int }
	var received msg

	b.On("alice", bus.EventPostTransaction, func(payload any) {
		received = payload.(msg)
	})

	b.Broadcast(bus.EventPostTransaction, msg{Amount: 42})
	assert.Equal(t, 42, received.Amount)
}
