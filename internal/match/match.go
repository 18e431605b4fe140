// Package match resolves target specs against agent records. A matcher is a
// pure predicate over the registry snapshot taken at dispatch time.
package match

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/muster/internal/domain/model"
)

// Matcher is a compiled target spec ready to filter agent records.
type Matcher interface {
	// Match reports whether the agent record satisfies the spec.
	Match(rec model.AgentRecord) bool
}

// Parse validates and compiles a target spec. Malformed specs are rejected
// here, before any dispatch occurs, wrapping model.ErrBadTargetSpec.
func Parse(spec model.TargetSpec) (Matcher, error) {
	expr := strings.TrimSpace(spec.Expression)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", model.ErrBadTargetSpec)
	}

	switch spec.Kind {
	case model.MatcherGlob:
		// path.Match reports bad patterns eagerly against an empty name.
		if _, err := path.Match(expr, ""); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", model.ErrBadTargetSpec, expr, err)
		}
		return globMatcher(expr), nil
	case model.MatcherList:
		ids := make(map[string]struct{})
		for _, part := range strings.Split(expr, ",") {
			if id := strings.TrimSpace(part); id != "" {
				ids[id] = struct{}{}
			}
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: list %q has no ids", model.ErrBadTargetSpec, expr)
		}
		return listMatcher(ids), nil
	case model.MatcherGrain:
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: grain expression %q: %v", model.ErrBadTargetSpec, expr, err)
		}
		return &grainMatcher{expr: compiled}, nil
	default:
		return nil, fmt.Errorf("%w: unknown matcher kind %q", model.ErrBadTargetSpec, spec.Kind)
	}
}

// Resolve filters agent records through the matcher and returns the matched
// ids. An empty resolution is a reportable condition for callers, not an
// error here.
func Resolve(m Matcher, agents []model.AgentRecord) []string {
	var ids []string
	for _, rec := range agents {
		if m.Match(rec) {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

type globMatcher string

func (g globMatcher) Match(rec model.AgentRecord) bool {
	ok, err := path.Match(string(g), rec.ID)
	return err == nil && ok
}

type listMatcher map[string]struct{}

func (l listMatcher) Match(rec model.AgentRecord) bool {
	_, ok := l[rec.ID]
	return ok
}

type grainMatcher struct {
	expr jmespath.JMESPath
}

func (g *grainMatcher) Match(rec model.AgentRecord) bool {
	if len(rec.Grains) == 0 {
		return false
	}
	var grains any
	if err := json.Unmarshal(rec.Grains, &grains); err != nil {
		return false
	}
	out, err := g.expr.Search(grains)
	if err != nil {
		return false
	}
	return truthy(out)
}

// truthy follows JMESPath semantics: false, null, empty string, empty
// collection are all false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
