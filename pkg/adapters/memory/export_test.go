package memory

import "time"

// Retained reports how many responses the notifier still holds.
func (n *Notifier) Retained() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.responses)
}

// SetClock overrides the clock used to stamp responses.
func (n *Notifier) SetClock(now func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.now = now
}
