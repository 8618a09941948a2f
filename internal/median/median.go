// Package median tracks a rolling median over the most recent integer
// samples of a bounded history.
package median

import (
	"cmp"
	"math"
	"slices"
)

const (
	DefaultWindow  = 3
	DefaultHistory = 122
)

type entry struct {
	value int
	seq   uint64
}

func compareEntry(a, b entry) int {
	if c := cmp.Compare(a.value, b.value); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// Median is a sliding-window median. The window is held as two ordered
// halves; lo holds the smaller values and is never shorter than hi.
// Median is not safe for concurrent use.
type Median struct {
	window int

	// history is a fixed-capacity ring of the most recent samples.
	history []entry
	head    int
	count   int
	nextSeq uint64

	lo []entry
	hi []entry
}

// New returns a Median over the last window samples, retaining at most
// history samples. Non-positive arguments select the defaults.
func New(window, history int) *Median {
	if window <= 0 {
		window = DefaultWindow
	}
	if history <= 0 {
		history = DefaultHistory
	}
	if history < window {
		history = window
	}
	return &Median{
		window:  window,
		history: make([]entry, history),
		lo:      make([]entry, 0, window/2+1),
		hi:      make([]entry, 0, window/2+1),
	}
}

// Window returns the configured window size.
func (m *Median) Window() int { return m.window }

// Len returns the number of retained history samples.
func (m *Median) Len() int { return m.count }

// HasEnough reports whether a full window of samples has been seen.
func (m *Median) HasEnough() bool {
	return len(m.lo)+len(m.hi) >= m.window
}

// Update adds a sample.
func (m *Median) Update(sample int) {
	e := entry{value: sample, seq: m.nextSeq}
	m.nextSeq++

	if m.count == len(m.history) {
		// Overflow: drop the oldest sample and rebuild the window from the
		// retained tail.
		m.history[m.head] = e
		m.head = (m.head + 1) % len(m.history)
		m.rebuild()
		return
	}

	m.history[(m.head+m.count)%len(m.history)] = e
	m.count++

	m.insert(e)
	if len(m.lo)+len(m.hi) > m.window {
		m.remove(m.at(m.count - 1 - m.window))
	}
}

// Current returns the median of the window. ok is false until a full window
// has been seen.
func (m *Median) Current() (median int, ok bool) {
	if !m.HasEnough() {
		return 0, false
	}
	if len(m.lo) > len(m.hi) {
		return m.lo[len(m.lo)-1].value, true
	}
	a, b := m.lo[len(m.lo)-1].value, m.hi[0].value
	return int(math.Round(float64(a+b) / 2)), true
}

// Reset discards all samples.
func (m *Median) Reset() {
	m.head, m.count = 0, 0
	m.lo = m.lo[:0]
	m.hi = m.hi[:0]
}

// at returns the i-th oldest retained sample.
func (m *Median) at(i int) entry {
	return m.history[(m.head+i)%len(m.history)]
}

func (m *Median) rebuild() {
	m.lo = m.lo[:0]
	m.hi = m.hi[:0]
	start := m.count - m.window
	if start < 0 {
		start = 0
	}
	for i := start; i < m.count; i++ {
		m.insert(m.at(i))
	}
}

func (m *Median) insert(e entry) {
	if len(m.lo) == 0 || compareEntry(e, m.lo[len(m.lo)-1]) <= 0 {
		m.lo = insertSorted(m.lo, e)
	} else {
		m.hi = insertSorted(m.hi, e)
	}
	m.balance()
}

func (m *Median) remove(e entry) {
	if i, found := slices.BinarySearchFunc(m.lo, e, compareEntry); found {
		m.lo = slices.Delete(m.lo, i, i+1)
	} else if i, found := slices.BinarySearchFunc(m.hi, e, compareEntry); found {
		m.hi = slices.Delete(m.hi, i, i+1)
	}
	m.balance()
}

func (m *Median) balance() {
	for len(m.lo) > len(m.hi)+1 {
		last := m.lo[len(m.lo)-1]
		m.lo = m.lo[:len(m.lo)-1]
		m.hi = slices.Insert(m.hi, 0, last)
	}
	for len(m.hi) > len(m.lo) {
		first := m.hi[0]
		m.hi = slices.Delete(m.hi, 0, 1)
		m.lo = append(m.lo, first)
	}
}

func insertSorted(s []entry, e entry) []entry {
	i, _ := slices.BinarySearchFunc(s, e, compareEntry)
	return slices.Insert(s, i, e)
}
