package consolidation

import (
	"reflect"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/uuidvault/uuidvault/pkg/types"
)

func TestMerge_Example(t *testing.T) {
	shardA := []types.Record{{TS: 100, IDType: 1, ID: "x"}}
	shardB := []types.Record{{TS: 50, IDType: 1, ID: "y"}, {TS: 100, IDType: 1, ID: "x"}}

	got, stats := Merge(nil, [][]types.Record{shardA, shardB})

	want := []types.Record{{TS: 50, IDType: 1, ID: "y"}, {TS: 100, IDType: 1, ID: "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
	if stats.Added != 2 || stats.Duplicates != 1 || stats.Existing != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMerge_SeedsFromExisting(t *testing.T) {
	existing := []types.Record{{TS: 10, IDType: 1, ID: "a"}, {TS: 20, IDType: 1, ID: "b"}}
	shards := [][]types.Record{{{TS: 20, IDType: 1, ID: "b"}, {TS: 15, IDType: 2, ID: "c"}}}

	got, stats := Merge(existing, shards)

	want := []types.Record{{TS: 10, IDType: 1, ID: "a"}, {TS: 15, IDType: 2, ID: "c"}, {TS: 20, IDType: 1, ID: "b"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
	if stats.Existing != 2 || stats.Added != 1 || stats.Duplicates != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMerge_StableOnEqualTS(t *testing.T) {
	existing := []types.Record{{TS: 5, IDType: 1, ID: "first"}}
	shards := [][]types.Record{
		{{TS: 5, IDType: 1, ID: "second"}},
		{{TS: 5, IDType: 1, ID: "third"}, {TS: 1, IDType: 1, ID: "early"}},
	}

	got, _ := Merge(existing, shards)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	want := []string{"early", "first", "second", "third"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestMerge_DropsInvalid(t *testing.T) {
	got, stats := Merge(
		[]types.Record{{TS: 1, IDType: 1, ID: ""}},
		[][]types.Record{{{TS: 2, IDType: 1, ID: "ok"}, {TS: 3, IDType: 1, ID: ""}}},
	)
	if len(got) != 1 || got[0].ID != "ok" {
		t.Errorf("Merge = %v", got)
	}
	if stats.Invalid != 2 {
		t.Errorf("Invalid = %d, want 2", stats.Invalid)
	}
}

func TestMerge_CollapsesDuplicatesInsideArchive(t *testing.T) {
	existing := []types.Record{{TS: 1, IDType: 1, ID: "a"}, {TS: 1, IDType: 1, ID: "a"}}
	got, stats := Merge(existing, nil)
	if len(got) != 1 || stats.Duplicates != 1 {
		t.Errorf("Merge = %v, stats %+v", got, stats)
	}
}

// genSmallRecord draws from a small space so duplicates are common.
func genSmallRecord() gopter.Gen {
	return gopter.CombineGens(
		gen.Int64Range(0, 6),
		gen.Int64Range(0, 2),
		gen.OneConstOf("a", "b", "c", "a:b", "1:a"),
	).Map(func(v []interface{}) types.Record {
		return types.Record{TS: v[0].(int64), IDType: v[1].(int64), ID: v[2].(string)}
	})
}

func keySet(rs []types.Record) map[string]bool {
	out := make(map[string]bool, len(rs))
	for _, r := range rs {
		out[types.DedupeKey(r)] = true
	}
	return out
}

// TestProperty_Merge checks the archive invariants over arbitrary inputs.
func TestProperty_Merge(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	genExisting := gen.SliceOf(genSmallRecord())
	genShards := gen.SliceOf(gen.SliceOf(genSmallRecord()))

	properties.Property("no two rows share a dedupe key", prop.ForAll(
		func(existing []types.Record, shards [][]types.Record) bool {
			got, _ := Merge(existing, shards)
			return len(keySet(got)) == len(got)
		},
		genExisting, genShards,
	))

	properties.Property("rows are non-decreasing in ts", prop.ForAll(
		func(existing []types.Record, shards [][]types.Record) bool {
			got, _ := Merge(existing, shards)
			return sort.SliceIsSorted(got, func(i, j int) bool { return got[i].TS < got[j].TS })
		},
		genExisting, genShards,
	))

	properties.Property("output is the union of all inputs", prop.ForAll(
		func(existing []types.Record, shards [][]types.Record) bool {
			got, _ := Merge(existing, shards)
			all := append([]types.Record(nil), existing...)
			for _, s := range shards {
				all = append(all, s...)
			}
			return reflect.DeepEqual(keySet(got), keySet(all))
		},
		genExisting, genShards,
	))

	properties.Property("re-merging the same shards into the result is a no-op", prop.ForAll(
		func(existing []types.Record, shards [][]types.Record) bool {
			once, _ := Merge(existing, shards)
			twice, stats := Merge(once, shards)
			return reflect.DeepEqual(once, twice) && stats.Added == 0
		},
		genExisting, genShards,
	))

	properties.Property("batching of shards does not change the key set", prop.ForAll(
		func(existing []types.Record, shards [][]types.Record) bool {
			all, _ := Merge(existing, shards)
			step := existing
			for _, s := range shards {
				step, _ = Merge(step, [][]types.Record{s})
			}
			return reflect.DeepEqual(keySet(all), keySet(step)) && len(all) == len(step)
		},
		genExisting, genShards,
	))

	properties.TestingRun(t)
}
