package splitter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meroton/git-toprepo/internal/config"
	"github.com/meroton/git-toprepo/internal/fastexport"
	"github.com/meroton/git-toprepo/internal/message"
	"github.com/meroton/git-toprepo/internal/monograph"
	"github.com/meroton/git-toprepo/internal/oid"
	"github.com/meroton/git-toprepo/internal/reponame"
)

// topGroupPath is the group key used for file changes outside every
// submodule, mirroring internal/message's "<top>" footer path.
const topGroupPath = "<top>"

// groupKey identifies one push target within a single mono commit: every
// file change under path belongs to the same repository and is pushed
// through the same URL.
type groupKey struct {
	path     string
	repoName reponame.RepoName
	pushURL  string
}

// fileGroup is one groupKey's accumulated file changes, plus the
// submodule (or top) state this mono commit records there — the parent
// commit a later mono commit at the same path will chain from.
type fileGroup struct {
	key          groupKey
	origTargetID oid.OID
	changes      []fastexport.FileChange
}

// groupFileChanges implements spec.md §4.6 step 2: bucket a mono
// commit's file changes by the innermost submodule that encloses each
// changed path, falling back to the top repository for anything outside
// every submodule.
func groupFileChanges(mono *monograph.MonoRepoCommit, repos *config.Config, topPushURL string, changes []fastexport.FileChange) (map[groupKey]*fileGroup, []groupKey, error) {
	groups := make(map[groupKey]*fileGroup)
	var order []groupKey

	for _, fc := range changes {
		key, origTargetID, err := classifyPath(mono, repos, topPushURL, string(fc.Path))
		if err != nil {
			return nil, nil, err
		}
		g, ok := groups[key]
		if !ok {
			g = &fileGroup{key: key, origTargetID: origTargetID}
			groups[key] = g
			order = append(order, key)
		}
		g.changes = append(g.changes, fc)
	}
	return groups, order, nil
}

// classifyPath finds the innermost submodule mount enclosing path (the
// longest matching entry of mono.SubmodulePaths()), and resolves the
// repository and push url that owns it.
func classifyPath(mono *monograph.MonoRepoCommit, repos *config.Config, topPushURL string, path string) (groupKey, oid.OID, error) {
	p := reponame.PathFromString(path)

	best := ""
	for _, cand := range mono.SubmodulePaths() {
		if len(cand) <= len(best) {
			continue
		}
		if p.HasPrefixDir(reponame.PathFromString(cand)) {
			best = cand
		}
	}

	if best == "" {
		if !mono.HasTopBump {
			return groupKey{}, oid.Zero, fmt.Errorf("splitter: top-level file change %q but this mono commit carries no top bump", path)
		}
		return groupKey{path: topGroupPath, repoName: reponame.Top, pushURL: topPushURL}, mono.TopBump, nil
	}

	content, ok := currentSubmoduleOutcome(mono, best)
	if !ok {
		return groupKey{}, oid.Zero, fmt.Errorf("splitter: submodule %q has no resolved state at this commit; it may be disabled or unresolved, which pushing through is not supported", best)
	}
	rc, ok := repos.Repos[content.RepoName]
	if !ok || len(rc.URLs) == 0 {
		return groupKey{}, oid.Zero, fmt.Errorf("splitter: no configured push url for %s", content.RepoName)
	}
	return groupKey{path: best, repoName: content.RepoName, pushURL: rc.URLs[0]}, content.OrigCommitID, nil
}

// currentSubmoduleOutcome walks mono's canonical super-parent chain to
// find the last commit that resolved path, mirroring
// internal/expander's currentSubCommit but returning the full
// SubmoduleContent the splitter needs to pick a push url and repo name.
func currentSubmoduleOutcome(mono *monograph.MonoRepoCommit, path string) (monograph.SubmoduleContent, bool) {
	for cur := mono; cur != nil; cur = cur.CanonicalSuperParent() {
		outcome, ok := cur.SubmoduleBumps[path]
		if !ok {
			continue
		}
		if outcome.Kind == monograph.BumpOutcomeExpanded && outcome.Submodule.Kind == monograph.ExpandedOK {
			return outcome.Submodule.Content, true
		}
		return monograph.SubmoduleContent{}, false
	}
	return monograph.SubmoduleContent{}, false
}

// relativePath strips a group's mount prefix off an absolute path, since
// a per-repo push commit is written relative to that repository's own
// root.
func relativePath(innerPath string, fullPath []byte) string {
	full := string(fullPath)
	if innerPath == "" {
		return full
	}
	return strings.TrimPrefix(full, innerPath+"/")
}

// rewrittenMessage is one group's push-commit message: the body assigned
// to its path by the original assembly footer (spec.md §4.9 Split),
// falling back to the commit's residual body, plus whichever topic the
// whole commit carries.
type rewrittenMessage struct {
	body     string
	topic    string
	hasTopic bool
}

// splitPushMessage implements spec.md §4.6 step 3: undo the assembly in
// §4.9 to recover each path's own message, and the single Topic: footer
// that governs the whole commit (a push touching more than one
// repository requires exactly one Topic: line, not one per path).
func splitPushMessage(raw string, paths []string) (map[string]rewrittenMessage, error) {
	split, err := message.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("splitter: splitting commit message: %w", err)
	}

	topic := split.ResidualTopic
	hasTopic := topic != ""
	if !hasTopic {
		for _, t := range split.Topics {
			if t != "" {
				topic, hasTopic = t, true
				break
			}
		}
	}

	out := make(map[string]rewrittenMessage, len(paths))
	for _, path := range paths {
		body, ok := split.ByPath[path]
		if !ok || body == "" {
			body = split.Residual
		}
		out[path] = rewrittenMessage{body: stripTopicLine(body), topic: topic, hasTopic: hasTopic}
	}
	return out, nil
}

// topicLineRe matches a Topic: footer line, stripped from a push
// commit's body the way the message it was distilled from always did:
// the topic governs routing, not the pushed history.
var topicLineRe = regexp.MustCompile(`(?m)^Topic:\s*.*$\n?`)

func stripTopicLine(body string) string {
	return strings.TrimSpace(topicLineRe.ReplaceAllString(body, ""))
}
