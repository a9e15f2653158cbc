package aggregator

import (
	"testing"

	"github.com/gitops-dm/dm/internal/model"
)

func TestSubscribeDeliversBroadcastMessages(t *testing.T) {
	h := NewHub()
	_, ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	h.updateDeployers(model.AllDeployerStatus{})

	select {
	case msg := <-ch:
		if msg.Type != model.MessageDeployerStatus {
			t.Fatalf("message type = %q, want %q", msg.Type, model.MessageDeployerStatus)
		}
	default:
		t.Fatal("expected a message on the subscriber channel")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	_, ch, unsubscribe := h.Subscribe()
	unsubscribe()

	h.updateDeployers(model.AllDeployerStatus{})

	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message after unsubscribe: %+v", msg)
		}
	default:
		// No message and channel still open: also acceptable, since
		// unsubscribe only removes the channel from future broadcasts
		// rather than closing it.
	}
}

func TestSwapClonesAndIncrementsCounter(t *testing.T) {
	h := NewHub()
	first := h.Status().Counter

	h.updateTransitions(model.AllTransitionStatus{})
	second := h.Status().Counter

	if second != first+1 {
		t.Fatalf("counter = %d, want %d", second, first+1)
	}
}

func TestBroadcastDoesNotBlockOnFullSubscriberChannel(t *testing.T) {
	h := NewHub()
	_, _, unsubscribe := h.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberCapacity+5; i++ {
		h.updateDeployers(model.AllDeployerStatus{})
	}
	// No deadlock reaching here is the assertion: broadcast must never
	// block on a slow/full subscriber channel.
}
