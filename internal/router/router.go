// Package router classifies a sanitized message into a worker type using
// weighted keyword scoring.
package router

import (
	"fmt"
	"sort"
	"strings"
)

// baselineWeight is the score the default worker starts with, so that it wins
// when nothing matches.
const baselineWeight = 1

// Decision is a routing outcome with the score table that produced it.
type Decision struct {
	Worker     string
	Scores     map[string]int
	Confidence float64
}

// Router is safe for concurrent use; it never mutates its table.
type Router struct {
	table    Table
	workers  []string
	keywords map[string][]keyword
	rank     map[string]int
}

type keyword struct {
	text   string
	weight int
}

// New validates table and builds a Router.
func New(table Table) (*Router, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing table: %w", err)
	}

	r := &Router{
		table:    table,
		keywords: make(map[string][]keyword, len(table.Keywords)),
		rank:     make(map[string]int, len(table.Priority)),
	}
	for i, w := range table.Priority {
		r.rank[w] = i
	}
	for worker, kws := range table.Keywords {
		list := make([]keyword, 0, len(kws))
		for kw, w := range kws {
			list = append(list, keyword{text: strings.ToLower(kw), weight: w})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].text < list[j].text })
		r.keywords[worker] = list
	}
	r.workers = table.WorkerTypes()
	sort.Strings(r.workers)
	return r, nil
}

func (r *Router) DefaultWorker() string { return r.table.DefaultWorker }

func (r *Router) Table() Table { return r.table }

// Route returns the winning worker type and the full score map.
func (r *Router) Route(sanitizedText string) (string, map[string]int) {
	d := r.Decide(sanitizedText)
	return d.Worker, d.Scores
}

// Decide scores text against every worker type. The highest score wins; ties
// go to the worker earliest in the priority list, then to the smaller name.
func (r *Router) Decide(sanitizedText string) Decision {
	scores := map[string]int{r.table.DefaultWorker: baselineWeight}
	text := strings.ToLower(sanitizedText)

	if strings.TrimSpace(text) != "" {
		for _, worker := range r.workers {
			for _, kw := range r.keywords[worker] {
				if n := strings.Count(text, kw.text); n > 0 {
					scores[worker] += kw.weight * n
				}
			}
		}
	}

	winner := r.table.DefaultWorker
	for worker, score := range scores {
		if r.beats(worker, score, winner, scores[winner]) {
			winner = worker
		}
	}

	total := 0
	for _, s := range scores {
		total += s
	}
	return Decision{
		Worker:     winner,
		Scores:     scores,
		Confidence: float64(scores[winner]) / float64(total),
	}
}

func (r *Router) beats(a string, aScore int, b string, bScore int) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	ra, aRanked := r.rank[a]
	rb, bRanked := r.rank[b]
	switch {
	case aRanked && bRanked:
		if ra != rb {
			return ra < rb
		}
	case aRanked:
		return true
	case bRanked:
		return false
	}
	return a < b
}
