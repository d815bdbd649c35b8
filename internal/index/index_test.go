package index

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(text string, types ...string) Record {
	return Record{Content: text, Types: types}
}

func TestRegisterBeforeInitialize(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})

	r1, r2 := rec("<a>r1</a>"), rec("<a>r2</a>")
	require.NoError(t, ix.Register(Shard{"crateA": {r1, r2}}))
	assert.Equal(t, 1, ix.State.Pending())

	ix.Initialize()

	got, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Equal(t, []Record{r1, r2}, got)
	assert.Equal(t, 0, ix.State.Pending())
	assert.Equal(t, Initialized, ix.State.Lifecycle())
}

func TestRegisterAfterInitializeAppends(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	ix.Initialize()

	r1, r2 := rec("r1"), rec("r2")
	require.NoError(t, ix.Register(Shard{"crateA": {r1}}))
	require.NoError(t, ix.Register(Shard{"crateA": {r2}}))

	got, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Equal(t, []Record{r1, r2}, got)
}

func TestFlushMatchesDirectRegistration(t *testing.T) {
	t.Parallel()
	shards := []Shard{
		{"a": {rec("a1")}, "b": {rec("b1", "B")}},
		{"a": {rec("a2", "X", "Y")}},
		{"c": {rec("c1")}, "a": {rec("a3")}},
		{"b": {rec("b2", "B")}},
	}

	queued := New(RenderOptions{})
	for _, s := range shards {
		require.NoError(t, queued.Register(s))
	}
	queued.Initialize()

	direct := New(RenderOptions{})
	direct.Initialize()
	for _, s := range shards {
		require.NoError(t, direct.Register(s))
	}

	for _, name := range []string{"a", "b", "c"} {
		want, err := direct.Lookup(name)
		require.NoError(t, err)
		got, err := queued.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	assert.Equal(t, direct.State.Units(), queued.State.Units())
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	require.NoError(t, ix.Register(Shard{"crateA": {rec("r1")}}))

	ix.Initialize()
	ix.Initialize()

	got, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, ix.State.RecordCount())
}

func TestLookupNotFound(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	require.NoError(t, ix.Register(Shard{"crateA": {rec("r1")}}))

	_, err := ix.Lookup("crateA")
	assert.ErrorIs(t, err, ErrNotFound, "lookup before initialize misses")

	ix.Initialize()
	_, err = ix.Lookup("never")
	require.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "never", nf.Name)
}

func TestExpandMissingLeavesTargetUntouched(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})

	target := &EntryList{Entries: []Entry{{ID: "keep"}}}
	err := ix.Expand("missing", target)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []Entry{{ID: "keep"}}, target.Entries)

	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"empty": {}}))
	err = ix.Expand("empty", target)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []Entry{{ID: "keep"}}, target.Entries)
}

func TestMalformedShardIsRejectedAtomically(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"good": {rec("g1")}}))

	tests := []struct {
		name  string
		shard Shard
		json  string
	}{
		{name: "nil shard", shard: nil},
		{name: "empty unit name", shard: Shard{"other": {rec("o1")}, " ": {rec("x")}}},
		{name: "empty content", shard: Shard{"good": {rec("g2"), {Content: ""}}}},
		{name: "scalar payload", json: `42`},
		{name: "string payload", json: `"crateA"`},
		{name: "records not a list", json: `{"good": {"text": "g3"}}`},
		{name: "later unit broken", json: `{"good": [["g3"]], "bad": [7]}`},
		{name: "pair missing records", json: `[["good"]]`},
		{name: "duplicate unit", json: `{"good": [["g3"]], "good": [["g4"]]}`},
		{name: "extra closing brace", json: `{"good": [["g3"]]}}`},
		{name: "extra closing bracket", json: `{"good": [["g3"]]} ]`},
		{name: "null records", json: `{"good": [["g3"]], "other": null}`},
		{name: "null records in pair", json: `[["other", null]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.json != "" {
				err = ix.RegisterJSON([]byte(tt.json))
			} else {
				err = ix.Register(tt.shard)
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)

			got, err := ix.Lookup("good")
			require.NoError(t, err)
			assert.Equal(t, []Record{rec("g1")}, got)
			_, err = ix.Lookup("other")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestExpandRerendersFullSequence(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"crateA": {rec("r1", "Foo")}}))

	target := &EntryList{}
	require.NoError(t, ix.Expand("crateA", target))
	require.Len(t, target.Entries, 1)

	require.NoError(t, ix.Register(Shard{"crateA": {rec("r2", "Bar")}}))
	require.NoError(t, ix.Expand("crateA", target))
	require.Len(t, target.Entries, 2)
	assert.Equal(t, "r1", target.Entries[0].Content)
	assert.Equal(t, "r2", target.Entries[1].Content)
}

func TestExpandGroupsConsecutiveTypeSets(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"crateA": {
		rec("r1", "Foo", "Bar"),
		rec("r2", "Bar", "Foo"),
		rec("r3", "Baz"),
		rec("r4", "Foo", "Bar"),
		rec("r5"),
		rec("r6"),
	}}))

	target := &EntryList{}
	require.NoError(t, ix.Expand("crateA", target))

	var grouped []bool
	for _, e := range target.Entries {
		grouped = append(grouped, e.Grouped)
	}
	assert.Equal(t, []bool{false, true, false, false, false, false}, grouped)
}

func TestExpandAnchorsAreUnique(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{AnchorPrefix: "impl-Debug-for-"})
	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"crateA": {
		rec("r1", "Vec<T>"),
		rec("r2", "Vec<T>"),
		rec("r3"),
	}}))

	target := &EntryList{}
	require.NoError(t, ix.Expand("crateA", target))
	ids := []string{target.Entries[0].ID, target.Entries[1].ID, target.Entries[2].ID}
	assert.Equal(t, []string{"impl-Debug-for-Vec-T", "impl-Debug-for-Vec-T-1", "impl-Debug-for-crateA"}, ids)

	// A second render starts numbering again.
	require.NoError(t, ix.Expand("crateA", target))
	assert.Equal(t, "impl-Debug-for-Vec-T", target.Entries[0].ID)
}

func TestExpandAppliesRewrite(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{Rewrite: func(s string) string { return "<" + s + ">" }})
	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"crateA": {rec("r1")}}))

	target := &EntryList{}
	require.NoError(t, ix.Expand("crateA", target))
	assert.Equal(t, "<r1>", target.Entries[0].Content)

	got, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Equal(t, "r1", got[0].Content, "rewrite must not leak into the registry")
}

func TestExpandAllSkipsOwnAndIgnoredCrates(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{CurrentCrate: "core", IgnoreExternCrates: []string{"alloc"}})
	require.NoError(t, ix.RegisterJSON([]byte(`[["std",[["std impl",0,["Foo"]]]],["core",[["core impl"]]],["alloc",[["alloc impl"]]],["serde",[["serde impl"]]]]`)))
	ix.Initialize()

	target := &EntryList{}
	require.NoError(t, ix.ExpandAll(target))

	var crates []string
	for _, e := range target.Entries {
		crates = append(crates, e.Crate)
	}
	assert.Equal(t, []string{"std", "serde"}, crates)
}

func TestExpandAllDedupesSyntheticTypes(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"a": {
		{Content: "auto Send for Foo", Synthetic: true, Types: []string{"Foo"}},
		{Content: "Debug for Foo", Types: []string{"Foo"}},
	}}))
	require.NoError(t, ix.Register(Shard{"b": {
		{Content: "auto Send for Foo again", Synthetic: true, Types: []string{"Foo"}},
		{Content: "auto Send for Bar", Synthetic: true, Types: []string{"Bar"}},
	}}))

	target := &EntryList{}
	require.NoError(t, ix.ExpandAll(target))

	var contents []string
	for _, e := range target.Entries {
		contents = append(contents, e.Content)
	}
	assert.Equal(t, []string{"auto Send for Foo", "Debug for Foo", "auto Send for Bar"}, contents)
}

func TestExpandAllUninitialized(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	require.NoError(t, ix.Register(Shard{"a": {rec("r1")}}))
	assert.ErrorIs(t, ix.ExpandAll(&EntryList{}), ErrNotFound)
}

func TestReplaceMode(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{}, WithMergeMode(MergeReplace))
	require.NoError(t, ix.Register(Shard{"crateA": {rec("r1")}}))
	require.NoError(t, ix.Register(Shard{"crateA": {rec("r2")}, "crateB": {rec("b1")}}))
	ix.Initialize()

	got, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Equal(t, []Record{rec("r2")}, got)
	assert.Equal(t, []string{"crateA", "crateB"}, ix.State.Units())
}

func TestRegistryIsIsolatedFromCallers(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})
	shard := Shard{"crateA": {rec("r1", "Foo")}}
	require.NoError(t, ix.Register(shard))
	shard["crateA"][0].Content = "mutated"
	shard["crateA"][0].Types[0] = "Mutated"
	ix.Initialize()

	got, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Equal(t, rec("r1", "Foo"), got[0])

	got[0].Content = "mutated again"
	again, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Equal(t, "r1", again[0].Content)
}

func TestSubscribeReceivesTouchedUnits(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})

	var mu sync.Mutex
	var batches [][]string
	unsubscribe := ix.State.Subscribe(func(names []string) {
		mu.Lock()
		batches = append(batches, names)
		mu.Unlock()
	})

	require.NoError(t, ix.RegisterJSON([]byte(`{"b": [["b1"]], "a": [["a1"]]}`)))
	require.NoError(t, ix.Register(Shard{"b": {rec("b2")}}))
	ix.Initialize()
	require.NoError(t, ix.Register(Shard{"c": {rec("c1")}}))
	unsubscribe()
	require.NoError(t, ix.Register(Shard{"d": {rec("d1")}}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]string{{"b", "a"}, {"c"}}, batches)
}

func TestConcurrentRegistration(t *testing.T) {
	t.Parallel()
	ix := New(RenderOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ix.Register(Shard{"crateA": {rec("r")}}))
		}()
		if i == 25 {
			ix.Initialize()
		}
	}
	wg.Wait()
	ix.Initialize()

	got, err := ix.Lookup("crateA")
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestNotFoundErrorMatchesSentinelOnly(t *testing.T) {
	t.Parallel()
	err := error(&NotFoundError{Name: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, errors.New("no records registered")))
}
