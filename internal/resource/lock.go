package resource

import "gopkg.in/yaml.v3"

// Lock is an ordered list of human-readable reasons; the resource or
// environment it guards is locked iff the list is non-empty.
type Lock struct {
	Reasons []string `yaml:"reasons"`
}

func (l Lock) Locked() bool { return len(l.Reasons) > 0 }

// Add appends reason if it is not already present (idempotent by
// equality).
func (l *Lock) Add(reason string) {
	for _, r := range l.Reasons {
		if r == reason {
			return
		}
	}
	l.Reasons = append(l.Reasons, reason)
}

// Remove deletes every reason equal to reason.
func (l *Lock) Remove(reason string) {
	out := l.Reasons[:0]
	for _, r := range l.Reasons {
		if r != reason {
			out = append(out, r)
		}
	}
	l.Reasons = out
}

// Locks is the content of one environment's locks.yaml: a lock on the
// whole environment plus per-resource locks.
type Locks struct {
	EnvLock       Lock            `yaml:"env_lock"`
	ResourceLocks map[string]Lock `yaml:"resource_locks"`
}

func DefaultLocks() Locks {
	return Locks{ResourceLocks: map[string]Lock{}}
}

// ParseLocks decodes locks.yaml content, defaulting to an unlocked value
// when data is empty (no locks.yaml committed yet for this environment).
func ParseLocks(data []byte) (Locks, error) {
	if len(data) == 0 {
		return DefaultLocks(), nil
	}
	var l Locks
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Locks{}, err
	}
	if l.ResourceLocks == nil {
		l.ResourceLocks = map[string]Lock{}
	}
	return l, nil
}

func (l Locks) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}
