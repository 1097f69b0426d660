// Package diff reconciles a stored record set against a freshly parsed one.
package diff

import "github.com/voyagen/guidevault/internal/models"

// Pair is an old record matched to the new record sharing its identity key.
type Pair[O, N any] struct {
	Key string
	Old O
	New N
}

// Result partitions a reconciliation. Added and Matched keep new-set order;
// Removed keeps old-set order.
type Result[O, N any] struct {
	Added      []N
	AddedKeys  []string
	Removed    []O
	Matched    []Pair[O, N]
	Duplicates []N // new records whose key was already seen in this run
}

// Reconcile matches newSet against oldSet by key in O(n).
//
// The first new record for a key wins; later ones are reported as Duplicates
// and neither matched nor added. When several old records share a key the
// first one is matched and the rest are removed.
func Reconcile[O, N any](oldSet []O, newSet []N, oldKey func(*O) string, newKey func(*N) string) Result[O, N] {
	byKey := make(map[string]int, len(oldSet))
	matchedOld := make([]bool, len(oldSet))
	for i := range oldSet {
		k := oldKey(&oldSet[i])
		if _, ok := byKey[k]; !ok {
			byKey[k] = i
		}
	}

	var res Result[O, N]
	seen := make(map[string]struct{}, len(newSet))
	for i := range newSet {
		k := newKey(&newSet[i])
		if _, dup := seen[k]; dup {
			res.Duplicates = append(res.Duplicates, newSet[i])
			continue
		}
		seen[k] = struct{}{}
		if oi, ok := byKey[k]; ok {
			res.Matched = append(res.Matched, Pair[O, N]{Key: k, Old: oldSet[oi], New: newSet[i]})
			matchedOld[oi] = true
			delete(byKey, k)
			continue
		}
		res.Added = append(res.Added, newSet[i])
		res.AddedKeys = append(res.AddedKeys, k)
	}
	for i := range oldSet {
		if !matchedOld[i] {
			res.Removed = append(res.Removed, oldSet[i])
		}
	}
	return res
}

// Summarize builds the caller-facing summary. Name lists are capped at
// models.SummaryPreviewLimit; counts are the true totals.
func Summarize[O, N any](r Result[O, N], oldName func(*O) string, newName func(*N) string) *models.SyncSummary {
	s := &models.SyncSummary{
		AddedChannels:   make([]string, 0, min(len(r.Added), models.SummaryPreviewLimit)),
		RemovedChannels: make([]string, 0, min(len(r.Removed), models.SummaryPreviewLimit)),
		AddedCount:      len(r.Added),
		RemovedCount:    len(r.Removed),
		UnchangedCount:  len(r.Matched),
		DuplicateCount:  len(r.Duplicates),
	}
	for i := 0; i < len(r.Added) && i < models.SummaryPreviewLimit; i++ {
		s.AddedChannels = append(s.AddedChannels, newName(&r.Added[i]))
	}
	for i := 0; i < len(r.Removed) && i < models.SummaryPreviewLimit; i++ {
		s.RemovedChannels = append(s.RemovedChannels, oldName(&r.Removed[i]))
	}
	return s
}
