package outcome

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusJSON(t *testing.T) {
	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"Reproducible"`), &s))
	assert.Equal(t, Reproducible, s.Kind)

	require.NoError(t, json.Unmarshal([]byte(`"SecondFailed"`), &s))
	assert.Equal(t, SecondFailed, s.Kind)

	require.NoError(t, json.Unmarshal([]byte(`{"Unreproducible": {"out": ["aaa", "bbb"], "dev": ["ccc", "ddd"]}}`), &s))
	assert.Equal(t, Unreproducible, s.Kind)
	assert.Equal(t, HashPair{A: "aaa", B: "bbb"}, s.Hashes["out"])
	assert.Equal(t, []string{"dev", "out"}, s.OutputNames())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Unreproducible": {"out": ["aaa", "bbb"], "dev": ["ccc", "ddd"]}}`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`"Flaky"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"Other": {}}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"Unreproducible": {"out": ["aaa"]}}`), &s))
}

func TestStatusValidate(t *testing.T) {
	assert.NoError(t, Status{Kind: FirstFailed}.Validate())
	assert.NoError(t, NewUnreproducible(map[string]HashPair{"out": {"a", "b"}}).Validate())
	assert.Error(t, NewUnreproducible(map[string]HashPair{"out": {"a", "a"}}).Validate())
	assert.Error(t, NewUnreproducible(map[string]HashPair{"out": {"", "b"}}).Validate())
	assert.Error(t, NewUnreproducible(nil).Validate())
	assert.Error(t, Status{Kind: Reproducible, Hashes: map[string]HashPair{"out": {"a", "b"}}}.Validate())
}

func TestRequestJSON(t *testing.T) {
	var r Request
	require.NoError(t, json.Unmarshal([]byte(`{"V1": {"nixpkgs_revision": "abc123"}}`), &r))
	assert.Equal(t, "V1", r.Version)
	assert.Equal(t, "abc123", r.NixpkgsRevision)
	assert.True(t, r.Compatible())
	assert.True(t, r.Equal(NewRequest("abc123")))

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"V1": {"nixpkgs_revision": "abc123"}}`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"V2": {"nixpkgs_revision": "abc"}}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`{"V1": {}, "V3": {}}`), &r))
	assert.False(t, Request{Version: "bogus"}.Compatible())
}

func mk(rev, drv string, s Status) Outcome {
	return Outcome{Request: NewRequest(rev), Drv: drv, Status: s}
}

func TestFilterPreservesArrivalOrder(t *testing.T) {
	outcomes := []Outcome{
		mk("r1", "/nix/store/c.drv", Status{Kind: Reproducible}),
		mk("r2", "/nix/store/a.drv", Status{Kind: Reproducible}),
		mk("r1", "/nix/store/b.drv", Status{Kind: SecondFailed}),
		mk("r1", "/nix/store/out-of-scope.drv", Status{Kind: Reproducible}),
		mk("r1", "/nix/store//a.drv", Status{Kind: FirstFailed}),
	}
	scope := NewScope([]string{"/nix/store/a.drv", "/nix/store/b.drv", "/nix/store/c.drv"})

	got := Filter(outcomes, MatchRevision("r1"), scope)
	require.Len(t, got, 3)
	assert.Equal(t, "/nix/store/c.drv", got[0].Drv)
	assert.Equal(t, "/nix/store/b.drv", got[1].Drv)
	assert.Equal(t, "/nix/store//a.drv", got[2].Drv)

	assert.Empty(t, Filter(outcomes, MatchRevision("nope"), scope))
	assert.Empty(t, Filter(nil, MatchRevision("r1"), scope))
}

func TestPartition(t *testing.T) {
	b := Partition([]Outcome{
		mk("r", "a", Status{Kind: Reproducible}),
		mk("r", "b", NewUnreproducible(map[string]HashPair{"out": {"x", "y"}})),
		mk("r", "c", Status{Kind: FirstFailed}),
		mk("r", "d", Status{Kind: Reproducible}),
		mk("r", "e", Status{Kind: SecondFailed}),
	})
	assert.Len(t, b.Reproducible, 2)
	assert.Len(t, b.Unreproducible, 1)
	assert.Len(t, b.FirstFailed, 1)
	assert.Len(t, b.SecondFailed, 1)
	assert.Equal(t, 5, b.Total())
	assert.Equal(t, "d", b.Reproducible[1].Drv)
}

func TestFileEvaluator(t *testing.T) {
	dir := t.TempDir()
	toBuild := filepath.Join(dir, "to_build")
	results := filepath.Join(dir, "results.jsonl")
	require.NoError(t, os.WriteFile(toBuild, []byte("# comment\n/nix/store/a.drv\n\n/nix/store/b.drv\n"), 0o644))
	require.NoError(t, os.WriteFile(results, []byte(
		`{"request": {"V1": {"nixpkgs_revision": "r1"}}, "drv": "/nix/store/a.drv", "status": "Reproducible"}`+"\n"+
			"\n"+
			`{"request": {"V1": {"nixpkgs_revision": "r1"}}, "drv": "/nix/store/b.drv", "status": {"Unreproducible": {"out": ["aaa", "bbb"]}}}`+"\n"),
		0o644))

	inst, err := FileEvaluator{ToBuildPath: toBuild, ResultsPath: results}.Evaluate(context.Background(), NewRequest("r1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/nix/store/a.drv", "/nix/store/b.drv"}, inst.ToBuild)
	require.Len(t, inst.Results, 2)
	assert.Equal(t, Unreproducible, inst.Results[1].Status.Kind)
	assert.True(t, inst.Scope().Contains("/nix/store/b.drv"))
}

func TestReadResultsRejectsInvariantViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"request": {"V1": {"nixpkgs_revision": "r1"}}, "drv": "/nix/store/a.drv", "status": {"Unreproducible": {"out": ["aaa", "aaa"]}}}`+"\n"), 0o644))

	_, err := ReadResults(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "results.jsonl:1")
}

func TestReadResultsMissingFile(t *testing.T) {
	res, err := ReadResults(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, res)
}
