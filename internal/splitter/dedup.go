package splitter

import "github.com/meroton/git-toprepo/internal/oid"

// pushParentKey identifies one (push url, commit) edge for the
// redundant-push check below.
type pushParentKey struct {
	pushURL string
	id      oid.OID
}

type topicState struct {
	topic    string
	hasTopic bool
}

// Dedup implements spec.md §4.6 step 5: when several push targets form a
// chain along the same (push url, commit) edge, only the newest covering
// edge with a distinct topic needs to be pushed — anything older that
// the newest already supersedes is redundant and dropped. A push target
// is kept unless a later target (closer to the tip) already claimed its
// exact commit on the same topic as one of its own parent edges.
func Dedup(targets []PushTarget) []PushTarget {
	reversed := make([]PushTarget, len(targets))
	for i, t := range targets {
		reversed[len(targets)-1-i] = t
	}

	redundant := make(map[pushParentKey]topicState)
	var kept []PushTarget
	for _, t := range reversed {
		key := pushParentKey{pushURL: t.PushURL, id: t.CommitID}
		prior, markedRedundant := redundant[key]
		delete(redundant, key)

		needed := !markedRedundant || prior.hasTopic != t.HasTopic || prior.topic != t.Topic
		if needed {
			kept = append(kept, t)
		}
		for _, p := range t.Parents {
			redundant[pushParentKey{pushURL: t.PushURL, id: p}] = topicState{topic: t.Topic, hasTopic: t.HasTopic}
		}
	}

	out := make([]PushTarget, len(kept))
	for i, t := range kept {
		out[len(kept)-1-i] = t
	}
	return out
}
