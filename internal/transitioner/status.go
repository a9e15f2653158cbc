package transitioner

import (
	"sync"
	"time"

	"github.com/gitops-dm/dm/internal/model"
)

// statusStore is the Transitioner's in-memory per-rule status, published
// after every rule attempt per §4.6's "Status publication" paragraph.
type statusStore struct {
	mu   sync.RWMutex
	info model.AllTransitionStatus
}

func newStatusStore() *statusStore {
	return &statusStore{info: model.AllTransitionStatus{}}
}

func (s *statusStore) entry(name string) *model.TransitionStatusInfo {
	info, ok := s.info[name]
	if !ok {
		info = &model.TransitionStatusInfo{}
		s.info[name] = info
	}
	return info
}

func (s *statusStore) recordSuccess(name string, run model.TransitionSuccessfulRunInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(name).RecordSuccess(run)
}

func (s *statusStore) recordLastRun(name string, t time.Time, result model.TransitionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(name).RecordLastRun(t, result)
}

func (s *statusStore) snapshot() model.AllTransitionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Clone()
}
