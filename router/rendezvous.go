package router

import (
	"hash/fnv"

	rendezvous "github.com/dgryski/go-rendezvous"
)

// CandidatePicker selects among equivalent backend candidates for the
// legacy multi-backend mode (spec §4.1: "several tenants share infra via
// references"). It wraps rendezvous (highest-random-weight) hashing so
// that adding or removing a candidate relocates only 1/N of keys.
type CandidatePicker struct {
	candidates []string
	rdv        *rendezvous.Rendezvous
}

// NewCandidatePicker builds a picker over a fixed candidate set. The
// candidate order is significant only for tie-breaking, not for
// distribution.
func NewCandidatePicker(candidates []string) *CandidatePicker {
	cp := &CandidatePicker{candidates: append([]string(nil), candidates...)}
	cp.rdv = rendezvous.New(cp.candidates, hashString)
	return cp
}

// Pick returns the candidate that maximizes H(routingKey, candidateId).
func (cp *CandidatePicker) Pick(routingKey string) string {
	return cp.rdv.Lookup(routingKey)
}

// Add grows the candidate set, rebuilding the hasher. Rendezvous hashing
// guarantees this only relocates keys that were mapped to the candidates
// whose weight the new entry now beats.
func (cp *CandidatePicker) Add(candidate string) {
	cp.candidates = append(cp.candidates, candidate)
	cp.rdv = rendezvous.New(cp.candidates, hashString)
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
