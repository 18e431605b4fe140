package match

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/domain/model"
)

func records(ids ...string) []model.AgentRecord {
	recs := make([]model.AgentRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, model.AgentRecord{ID: id})
	}
	return recs
}

func TestGlobMatching(t *testing.T) {
	m, err := Parse(model.TargetSpec{Expression: "web-*", Kind: model.MatcherGlob})
	require.NoError(t, err)

	got := Resolve(m, records("web-1", "web-2", "db-1"))
	assert.Equal(t, []string{"web-1", "web-2"}, got)
}

func TestGlobExactLiteralAndNoWildcardFallback(t *testing.T) {
	m, err := Parse(model.TargetSpec{Expression: "db-1", Kind: model.MatcherGlob})
	require.NoError(t, err)

	got := Resolve(m, records("db-1", "db-10"))
	assert.Equal(t, []string{"db-1"}, got, "a glob with no wildcards is an exact id match")
}

func TestBadGlobIsRejectedAtParse(t *testing.T) {
	_, err := Parse(model.TargetSpec{Expression: "db-[", Kind: model.MatcherGlob})
	require.ErrorIs(t, err, model.ErrBadTargetSpec)
}

func TestListMatching(t *testing.T) {
	m, err := Parse(model.TargetSpec{Expression: "a, c ,e", Kind: model.MatcherList})
	require.NoError(t, err)

	got := Resolve(m, records("a", "b", "c", "d"))
	assert.Equal(t, []string{"a", "c"}, got, "listed but unknown agents are simply not resolved")
}

func TestGrainMatching(t *testing.T) {
	agents := []model.AgentRecord{
		{ID: "db-1", Grains: json.RawMessage(`{"os":"linux","roles":["db","backup"]}`)},
		{ID: "web-1", Grains: json.RawMessage(`{"os":"linux","roles":["web"]}`)},
		{ID: "bare", Grains: nil},
	}

	tests := []struct {
		name string
		expr string
		want []string
	}{
		{"scalar equality", `os == 'linux'`, []string{"db-1", "web-1"}},
		{"array membership", `contains(roles, 'db')`, []string{"db-1"}},
		{"false literal excludes", `os == 'darwin'`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(model.TargetSpec{Expression: tt.expr, Kind: model.MatcherGrain})
			require.NoError(t, err)
			assert.Equal(t, tt.want, Resolve(m, agents))
		})
	}
}

func TestGrainBadExpressionRejected(t *testing.T) {
	_, err := Parse(model.TargetSpec{Expression: "roles[", Kind: model.MatcherGrain})
	require.ErrorIs(t, err, model.ErrBadTargetSpec)
}

func TestUnknownKindRejected(t *testing.T) {
	_, err := Parse(model.TargetSpec{Expression: "*", Kind: model.MatcherKind("pcre")})
	require.ErrorIs(t, err, model.ErrBadTargetSpec)
}

func TestMatcherKindUnmarshalText(t *testing.T) {
	var k model.MatcherKind
	require.NoError(t, k.UnmarshalText([]byte("grain")))
	assert.Equal(t, model.MatcherGrain, k)

	require.Error(t, k.UnmarshalText([]byte("nodegroup")))
}

func TestMatcherKindEmptyDefaultsToGlob(t *testing.T) {
	var k model.MatcherKind
	require.NoError(t, k.UnmarshalText(nil))
	assert.Equal(t, model.MatcherGlob, k)

	// A job serialized with a zero-valued target must survive the decode
	// round trip; agents receive such payloads and may never drop them.
	var job model.Job
	require.NoError(t, json.Unmarshal([]byte(`{"jid":"j1","fun":"test.ping","tgt":{"expr":"","kind":""}}`), &job))
	assert.Equal(t, model.MatcherGlob, job.Target.Kind)
}
