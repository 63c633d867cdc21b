// Package submittogether reorders the partially-ordered list of
// per-repo commits a push produces into topic-atomic batches, so that
// commits sharing a Gerrit topic are pushed together (spec.md §4.6,
// push-splitting). It is not named in spec.md's distillation; it is a
// direct port of the ordering algorithm original_source/src/submitted_together.rs
// implements for the same problem, generalized from Rust's monomorphic
// i32 "repo id" to a generic comparable key.
//
// Given repos A, B, C, D and commits:
//
//	Repos:    A     B     C     D
//	Commits
//	   |      A1    B1
//	   v      A2 -- B2 -- C1 -- D1
//	                          D2
//	          A3 -------------- D3
//
// where commits marked with a topic must land together across repos,
// this produces the ordered batches [[A1], [B1], [A2,B2,C1,D1], [D2], [A3,D3]].
package submittogether

import "fmt"

// Item is one commit to be ordered: Topic/HasTopic says whether it must
// be batched with every other commit sharing the same topic, and Repo
// identifies which repo it belongs to (commits from the same repo must
// already be adjacent in the input, in per-repo dependency order).
type Item[Repo comparable] struct {
	ID       string
	Topic    string
	HasTopic bool
	Repo     Repo
}

// group is one contiguous run of items sharing the same Repo, consumed
// front-to-back as batches are emitted.
type group[Repo comparable] struct {
	items []Item[Repo]
	pos   int
}

func (g *group[Repo]) peek() *Item[Repo] {
	if g.pos >= len(g.items) {
		return nil
	}
	return &g.items[g.pos]
}

func (g *group[Repo]) next() Item[Repo] {
	it := g.items[g.pos]
	g.pos++
	return it
}

// Order batches items into topic-atomic, per-repo-ordered groups. Items
// from the same repo must already be contiguous in the input (in the
// order they should be pushed); Order only reorders ACROSS repos to
// satisfy shared topics.
func Order[Repo comparable](items []Item[Repo]) ([][]Item[Repo], error) {
	if len(items) == 0 {
		return nil, nil
	}
	count := len(items)

	topicBacklinks := map[string][]Item[Repo]{}
	for _, it := range items {
		if it.HasTopic {
			topicBacklinks[it.Topic] = append(topicBacklinks[it.Topic], it)
		}
	}

	groups := []*group[Repo]{{items: []Item[Repo]{items[0]}}}
	for _, it := range items[1:] {
		last := groups[len(groups)-1]
		if it.Repo == last.items[len(last.items)-1].Repo {
			last.items = append(last.items, it)
		} else {
			groups = append(groups, &group[Repo]{items: []Item[Repo]{it}})
		}
	}

	slots := make(map[Repo]int, len(groups))
	for i, g := range groups {
		slots[g.items[0].Repo] = i
	}

	var res [][]Item[Repo]
	const iterationLimit = 1000
	limit := iterationLimit
	index := 0
	for limit > 0 {
		limit--
		slot := index % len(groups)
		candidate := groups[slot].peek()
		if candidate == nil {
			index++
			continue
		}

		if !candidate.HasTopic {
			res = append(res, []Item[Repo]{groups[slot].next()})
			// Retry the same slot; only advance once it peeks empty or
			// lands on a topic.
			continue
		}

		topic := candidate.Topic
		lookingFor := topicBacklinks[topic]

		seen := make(map[Repo]bool, len(lookingFor))
		var repos []Repo
		for _, it := range lookingFor {
			if !seen[it.Repo] {
				seen[it.Repo] = true
				repos = append(repos, it.Repo)
			}
		}

		ready := true
		for _, repo := range repos {
			head := groups[slots[repo]].peek()
			if head == nil || !head.HasTopic || head.Topic != topic {
				ready = false
				break
			}
		}
		if !ready {
			// The topic's commits aren't all at the head of their repos
			// yet; let other repos make progress first.
			index++
			continue
		}

		commits := make([]Item[Repo], 0, len(lookingFor))
		for _, it := range lookingFor {
			head := groups[slots[it.Repo]].next()
			if head.Topic != it.Topic {
				return nil, fmt.Errorf("submittogether: unexpected non-topic commit where topic %q was expected", topic)
			}
			commits = append(commits, head)
		}
		res = append(res, commits)
		index++
	}

	resCount := 0
	for _, g := range res {
		resCount += len(g)
	}
	if resCount != count {
		return nil, fmt.Errorf("submittogether: not all commits accounted for (placed %d of %d, topic dependency could not be resolved)", resCount, count)
	}
	return res, nil
}
