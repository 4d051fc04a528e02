package event

// DefaultQueueCapacity bounds the pending queue when no capacity is configured.
const DefaultQueueCapacity = 10000

// queue is a FIFO ring that grows on demand. It is not safe for concurrent
// use; the bus guards it with its own mutex.
type queue struct {
	buf  []Event
	head int
	size int
}

func newQueue() *queue {
	return &queue{buf: make([]Event, 16)}
}

func (q *queue) len() int {
	return q.size
}

func (q *queue) push(e Event) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = e
	q.size++
}

func (q *queue) pop() (Event, bool) {
	if q.size == 0 {
		return Event{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return e, true
}

func (q *queue) grow() {
	buf := make([]Event, len(q.buf)*2)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}
