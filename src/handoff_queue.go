package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Bounded queue between correction producers and the
 *		receiver poll loop.
 *
 * Description:	Several producers (L-band frame callback, MQTT, TCP
 *		clients) append from their own goroutines.  A single
 *		consumer, the poll loop, takes them out in order.
 *
 *		Neither side ever blocks.  A full queue is reported to the
 *		caller, which still owns the correction and must release it.
 *
 *---------------------------------------------------------------*/

// DefaultQueueCapacity matches the receiver firmware's queue depth.
const DefaultQueueCapacity = 10

type HandoffQueue struct {
	items chan *Correction
}

func NewHandoffQueue(capacity int) *HandoffQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &HandoffQueue{items: make(chan *Correction, capacity)}
}

// Enqueue appends c without blocking.  On true the queue owns c.
// On false ownership stays with the caller.
func (q *HandoffQueue) Enqueue(c *Correction) bool {
	select {
	case q.items <- c:
		return true
	default:
		return false
	}
}

// TryDequeue returns the oldest correction, or false if the queue is empty.
// The caller owns the returned correction.
func (q *HandoffQueue) TryDequeue() (*Correction, bool) {
	select {
	case c := <-q.items:
		return c, true
	default:
		return nil, false
	}
}

func (q *HandoffQueue) Len() int {
	return len(q.items)
}

func (q *HandoffQueue) Cap() int {
	return cap(q.items)
}

// Flush releases everything currently queued and returns how many
// corrections were dropped.
func (q *HandoffQueue) Flush() int {
	var n = 0

	for {
		var c, ok = q.TryDequeue()
		if !ok {
			return n
		}

		c.Release()
		n++
	}
}
