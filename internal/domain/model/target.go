package model

import (
	"fmt"
	"strings"
)

// MatcherKind selects how a target expression is interpreted.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type MatcherKind string

const (
	// MatcherGlob matches agent ids with shell-style glob patterns.
	MatcherGlob MatcherKind = "glob"
	// MatcherList matches agent ids against an explicit comma-separated list.
	MatcherList MatcherKind = "list"
	// MatcherGrain evaluates a JMESPath expression against each agent's
	// grain document and matches agents for which it is truthy.
	MatcherGrain MatcherKind = "grain"
)

// Valid returns true if the MatcherKind is one of the supported kinds.
func (k MatcherKind) Valid() bool {
	return k == MatcherGlob || k == MatcherList || k == MatcherGrain
}

// UnmarshalText implements encoding.TextUnmarshaler so the kind can be parsed
// from env configuration and request payloads. An empty value selects the
// glob default so a zero-valued TargetSpec stays decodable.
func (k *MatcherKind) UnmarshalText(text []byte) error {
	v := MatcherKind(strings.ToLower(strings.TrimSpace(string(text))))
	if v == "" {
		*k = MatcherGlob
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("invalid MatcherKind: %q", string(text))
	}
	*k = v
	return nil
}

// TargetSpec is an expression selecting a subset of agents.
type TargetSpec struct {
	Expression string      `json:"expr"`
	Kind       MatcherKind `json:"kind"`
}

func (t TargetSpec) String() string {
	return string(t.Kind) + ":" + t.Expression
}
