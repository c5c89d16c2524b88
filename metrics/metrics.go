// Package metrics implements edit-distance based recognition quality
// metrics: character error rate and word error rate.
package metrics

import "strings"

// editDistance computes the Levenshtein distance between two token
// sequences using single-row DP to save memory.
func editDistance[T comparable](a, b []T) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur := make([]int, lb+1)
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev = cur
	}
	return prev[lb]
}

// ErrorRate accumulates edit distances over prediction/reference pairs and
// reports total edits divided by total reference length, the corpus-level
// error rate convention.
type ErrorRate struct {
	edits  int
	refLen int
	split  func(string) []string
}

// NewCharErrorRate returns an aggregator operating on runes.
func NewCharErrorRate() *ErrorRate {
	return &ErrorRate{}
}

// NewWordErrorRate returns an aggregator operating on whitespace-separated
// tokens.
func NewWordErrorRate() *ErrorRate {
	return &ErrorRate{split: strings.Fields}
}

// Update accumulates one prediction/reference pair.
func (e *ErrorRate) Update(pred, ref string) {
	if e.split != nil {
		p, r := e.split(pred), e.split(ref)
		e.edits += editDistance(p, r)
		e.refLen += len(r)
		return
	}
	p, r := []rune(pred), []rune(ref)
	e.edits += editDistance(p, r)
	e.refLen += len(r)
}

// UpdateAll accumulates parallel prediction/reference lists, bounded by the
// shorter of the two.
func (e *ErrorRate) UpdateAll(preds, refs []string) {
	n := len(preds)
	if len(refs) < n {
		n = len(refs)
	}
	for i := 0; i < n; i++ {
		e.Update(preds[i], refs[i])
	}
}

// Compute returns the accumulated error rate. An empty reference corpus
// yields 0.
func (e *ErrorRate) Compute() float64 {
	if e.refLen == 0 {
		return 0
	}
	return float64(e.edits) / float64(e.refLen)
}

// Reset clears the accumulated counts.
func (e *ErrorRate) Reset() {
	e.edits = 0
	e.refLen = 0
}
