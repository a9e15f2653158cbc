package model

// Message is the tagged-union wire envelope the aggregator pushes over its
// `/api` channel. Exactly one of the payload fields is populated, selected
// by Type.
type Message struct {
	Type string `json:"type"`

	// FullStatus
	FullStatus *FullStatus `json:"full_status,omitempty"`

	// DeployerStatus / TransitionStatus / Versions all carry the counter
	// value the change was observed at, so a client can detect and log a
	// gap left by a dropped broadcast.
	Counter uint64 `json:"counter,omitempty"`

	Content     AllDeployerStatus   `json:"content,omitempty"`
	Transitions AllTransitionStatus `json:"transitions,omitempty"`
	Analysis    *VersionsAnalysis   `json:"analysis,omitempty"`
}

const (
	MessageFullStatus       = "FullStatus"
	MessageDeployerStatus   = "DeployerStatus"
	MessageTransitionStatus = "TransitionStatus"
	MessageVersions         = "Versions"
)

func NewFullStatusMessage(s *FullStatus) Message {
	return Message{Type: MessageFullStatus, FullStatus: s}
}

func NewDeployerStatusMessage(counter uint64, content AllDeployerStatus) Message {
	return Message{Type: MessageDeployerStatus, Counter: counter, Content: content}
}

func NewTransitionStatusMessage(counter uint64, transitions AllTransitionStatus) Message {
	return Message{Type: MessageTransitionStatus, Counter: counter, Transitions: transitions}
}

func NewVersionsMessage(counter uint64, analysis *VersionsAnalysis) Message {
	return Message{Type: MessageVersions, Counter: counter, Analysis: analysis}
}
