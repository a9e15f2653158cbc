// Package aggregator implements the Aggregator service: it consolidates
// the Deployer's and Transitioner's status plus the versions repo's commit
// history into one FullStatus, fans it out to websocket subscribers, and
// serves the deploy endpoint and UI static files, per §4.8/§4.9.
package aggregator

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gitops-dm/dm/internal/metrics"
	"github.com/gitops-dm/dm/internal/model"
)

// subscriberCapacity bounds each connection's outbound channel; sends are
// non-blocking try-sends, per §4.8's "Client fan-out" paragraph.
const subscriberCapacity = 20

// Hub holds the single RwLock-protected FullStatus and the set of
// connected subscribers, and is shared by the three watch loops and the
// websocket handler.
type Hub struct {
	mu     sync.RWMutex
	status *model.FullStatus

	subMu       sync.RWMutex
	subscribers map[string]chan model.Message

	log *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		status:      model.NewFullStatus(),
		subscribers: map[string]chan model.Message{},
		log:         logrus.WithField("component", "aggregator"),
	}
}

// Status returns the current FullStatus. Callers must not mutate it; it is
// shared, immutable-by-convention state.
func (h *Hub) Status() *model.FullStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// updateDeployers swaps in a freshly cloned FullStatus with deployers
// replaced, and broadcasts the corresponding DeployerStatus message.
func (h *Hub) updateDeployers(content model.AllDeployerStatus) {
	next := h.swap(func(s *model.FullStatus) { s.Deployers = content })
	h.broadcast(model.NewDeployerStatusMessage(next.Counter, content))
}

func (h *Hub) updateTransitions(transitions model.AllTransitionStatus) {
	next := h.swap(func(s *model.FullStatus) { s.Transitions = transitions })
	h.broadcast(model.NewTransitionStatusMessage(next.Counter, transitions))
}

func (h *Hub) updateAnalysis(analysis *model.VersionsAnalysis) {
	next := h.swap(func(s *model.FullStatus) { s.Analysis = analysis })
	h.broadcast(model.NewVersionsMessage(next.Counter, analysis))
}

// swap clones the current status, lets mutate edit exactly one field, and
// publishes the result under the write lock, matching the copy-on-write
// discipline described in §5.
func (h *Hub) swap(mutate func(*model.FullStatus)) *model.FullStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.status.Clone()
	mutate(next)
	h.status = next
	return next
}

// Subscribe registers a new outbound channel and returns it along with an
// unsubscribe func. The caller must send the initial FullStatus itself
// (the handler needs it before entering its read/write loop). The id is a
// uuid used only for log correlation between the connection's lifecycle
// messages.
func (h *Hub) Subscribe() (id string, ch chan model.Message, unsubscribe func()) {
	id = uuid.NewString()
	ch = make(chan model.Message, subscriberCapacity)

	h.subMu.Lock()
	h.subscribers[id] = ch
	count := len(h.subscribers)
	h.subMu.Unlock()

	metrics.AggregatorSubscribers.Set(float64(count))

	return id, ch, func() {
		h.subMu.Lock()
		delete(h.subscribers, id)
		count := len(h.subscribers)
		h.subMu.Unlock()
		metrics.AggregatorSubscribers.Set(float64(count))
	}
}

// broadcast fans msg out to every subscriber with a non-blocking try-send;
// a full channel means a slow consumer, which just misses this message and
// stays connected.
func (h *Hub) broadcast(msg model.Message) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			h.log.WithField("subscriber", id).Debug("dropping message: subscriber channel full")
		}
	}
}
