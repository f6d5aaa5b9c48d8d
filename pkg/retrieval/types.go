// Package retrieval implements query understanding and hierarchical
// context retrieval: the intent analyzer turns a conversation into typed
// queries, and the retriever walks the context tree from seeded directories
// down to the leaves that answer them.
package retrieval

import (
	"github.com/openviking/openviking/pkg/uri"
)

// ContextType selects which part of the tree a query searches.
type ContextType string

const (
	TypeMemory   ContextType = "memory"
	TypeResource ContextType = "resource"
	TypeSkill    ContextType = "skill"
)

// Mode selects retrieval effort. Thinking mode adds reranking.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeThinking Mode = "thinking"
)

// TypedQuery is one retrieval intent. Priority runs 1 (lowest) to 5.
type TypedQuery struct {
	Text        string      `json:"text"`
	ContextType ContextType `json:"context_type"`
	Intent      string      `json:"intent,omitempty"`
	Priority    int         `json:"priority"`
}

// MatchedRelation is one related context attached to a hit, with the
// reason recorded when the relation was linked.
type MatchedRelation struct {
	TargetURI string `json:"target_uri"`
	Reason    string `json:"reason,omitempty"`
}

// MatchedContext is one retrieval hit.
type MatchedContext struct {
	URI       string            `json:"uri"`
	Name      string            `json:"name"`
	Abstract  string            `json:"abstract,omitempty"`
	Score     float64           `json:"score"`
	IsDir     bool              `json:"is_dir"`
	Depth     int               `json:"depth"`
	Relations []MatchedRelation `json:"relations,omitempty"`
}

// rootsFor maps a context type to its search roots.
func rootsFor(t ContextType) []uri.URI {
	switch t {
	case TypeMemory:
		return []uri.URI{
			uri.Build(uri.ScopeUser, "memories"),
			uri.Build(uri.ScopeAgent, "memories"),
		}
	case TypeSkill:
		return []uri.URI{uri.Build(uri.ScopeAgent, "skills")}
	default:
		return []uri.URI{uri.Build(uri.ScopeResources)}
	}
}

// TypeForScope infers the context type searched under a scope URI.
func TypeForScope(u uri.URI) ContextType {
	switch u.Scope() {
	case uri.ScopeUser:
		return TypeMemory
	case uri.ScopeAgent:
		if len(u.Segments()) > 0 && u.Segments()[0] == "skills" {
			return TypeSkill
		}
		return TypeMemory
	default:
		return TypeResource
	}
}
