package core

import "sort"

// ChangeKind is the kind of mutation an audit entry records.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeReplaced ChangeKind = "replaced"
	ChangeExpired  ChangeKind = "expired"
	ChangeRemoved  ChangeKind = "removed"
)

type storeEntry struct {
	rule Rule
	seq  uint64
}

// RuleStore holds the single active rule per source. It is not safe for
// concurrent use; Manager serializes access to the store it owns.
type RuleStore struct {
	entries map[string]*storeEntry
	nextSeq uint64
}

// NewRuleStore creates an empty store.
func NewRuleStore() *RuleStore {
	return &RuleStore{entries: make(map[string]*storeEntry)}
}

// Upsert inserts the rule or replaces the existing rule for the same source.
// A replaced rule keeps its original insertion position.
func (s *RuleStore) Upsert(rule Rule) ChangeKind {
	if e, ok := s.entries[rule.SourceID]; ok {
		e.rule = rule.Clone()
		return ChangeReplaced
	}
	s.nextSeq++
	s.entries[rule.SourceID] = &storeEntry{rule: rule.Clone(), seq: s.nextSeq}
	return ChangeAdded
}

// Remove deletes the rule for sourceID. Removing an absent source is a no-op
// and returns false.
func (s *RuleStore) Remove(sourceID string) bool {
	if _, ok := s.entries[sourceID]; !ok {
		return false
	}
	delete(s.entries, sourceID)
	return true
}

// Get returns a copy of the rule for sourceID.
func (s *RuleStore) Get(sourceID string) (Rule, bool) {
	e, ok := s.entries[sourceID]
	if !ok {
		return Rule{}, false
	}
	return e.rule.Clone(), true
}

// Contains reports whether a rule exists for sourceID.
func (s *RuleStore) Contains(sourceID string) bool {
	_, ok := s.entries[sourceID]
	return ok
}

// Count returns the number of active rules.
func (s *RuleStore) Count() int {
	return len(s.entries)
}

// All returns a snapshot of the rules in insertion order.
func (s *RuleStore) All() []Rule {
	ordered := make([]*storeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	rules := make([]Rule, 0, len(ordered))
	for _, e := range ordered {
		rules = append(rules, e.rule.Clone())
	}
	return rules
}

// Clone returns an independent copy of the store, preserving insertion order.
func (s *RuleStore) Clone() *RuleStore {
	out := &RuleStore{
		entries: make(map[string]*storeEntry, len(s.entries)),
		nextSeq: s.nextSeq,
	}
	for k, e := range s.entries {
		out.entries[k] = &storeEntry{rule: e.rule.Clone(), seq: e.seq}
	}
	return out
}

// CountByAction returns how many active rules apply the given action.
func (s *RuleStore) CountByAction(action Action) int {
	n := 0
	for _, e := range s.entries {
		if e.rule.Action == action {
			n++
		}
	}
	return n
}
