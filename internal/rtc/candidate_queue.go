package rtc

import (
	"github.com/pion/webrtc/v3"
)

// CandidateQueue holds remote candidates until the link has a remote description.
// It is owned by the orchestrator loop and is not safe for concurrent use.
type CandidateQueue struct {
	pending []webrtc.ICECandidateInit
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{pending: make([]webrtc.ICECandidateInit, 0)}
}

func (q *CandidateQueue) Push(candidate webrtc.ICECandidateInit) {
	q.pending = append(q.pending, candidate)
}

func (q *CandidateQueue) Len() int {
	return len(q.pending)
}

// Drain applies queued candidates in arrival order and empties the queue.
// A candidate that fails to apply is discarded, the rest are still applied.
func (q *CandidateQueue) Drain(apply func(webrtc.ICECandidateInit) error) (applied int, discarded []error) {
	pending := q.pending
	q.pending = make([]webrtc.ICECandidateInit, 0)

	for _, candidate := range pending {
		if err := apply(candidate); err != nil {
			discarded = append(discarded, err)
			continue
		}
		applied++
	}

	return applied, discarded
}

func (q *CandidateQueue) Clear() {
	q.pending = make([]webrtc.ICECandidateInit, 0)
}
