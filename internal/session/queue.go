package session

import "github.com/banshee-data/overtake.report/internal/cobs"

// frameQueue splits a byte stream into runs that each end at a delimiter.
// Only the tail run can be incomplete. The zero value is an empty queue.
type frameQueue struct {
	runs     [][]byte
	lastByte byte
	seen     bool
}

// push appends chunk to the queue, starting a new run after every
// delimiter. State carries across calls so frames may span chunks.
func (q *frameQueue) push(chunk []byte) {
	for _, b := range chunk {
		if len(q.runs) == 0 || (q.seen && q.lastByte == cobs.Delimiter) {
			q.runs = append(q.runs, make([]byte, 0, 64))
		}
		tail := len(q.runs) - 1
		q.runs[tail] = append(q.runs[tail], b)
		q.lastByte = b
		q.seen = true
	}
}

// headComplete reports whether the head run carries its delimiter.
func (q *frameQueue) headComplete() bool {
	if len(q.runs) == 0 {
		return false
	}
	head := q.runs[0]
	return len(head) > 0 && head[len(head)-1] == cobs.Delimiter
}

// pop removes and returns the head run.
func (q *frameQueue) pop() []byte {
	head := q.runs[0]
	q.runs[0] = nil
	q.runs = q.runs[1:]
	if len(q.runs) == 0 {
		q.runs = nil
	}
	return head
}

func (q *frameQueue) len() int { return len(q.runs) }

// pending returns the number of buffered bytes.
func (q *frameQueue) pending() int {
	n := 0
	for _, r := range q.runs {
		n += len(r)
	}
	return n
}
