package of

import "time"

// pendingRequest tracks one outstanding request/reply pairing: a
// request sent to a peer, the channel its reply (matched by
// transaction id) is delivered on, and the deadline after which the
// request is abandoned.
type pendingRequest struct {
	xid      uint32
	reply    chan *Request
	deadline time.Time
	cc       *connCtx

	// index is this entry's position in the controller's timerQueue,
	// maintained by container/heap so it can be removed in O(log n)
	// when its reply arrives before it expires. -1 means "not in the
	// queue".
	index int
}

// timerQueue is a min-heap of pendingRequest ordered by deadline,
// giving the dispatch goroutine O(log n) insertion and O(1) access to
// the next request to time out.
type timerQueue []*pendingRequest

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	return q[i].deadline.Before(q[j].deadline)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x interface{}) {
	pr := x.(*pendingRequest)
	pr.index = len(*q)
	*q = append(*q, pr)
}

func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	pr := old[n-1]
	old[n-1] = nil
	pr.index = -1
	*q = old[:n-1]
	return pr
}
