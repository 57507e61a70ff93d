package dataset

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"rsgnet/internal/model"
)

func mkTrial(length, ready, set, goT int) model.Trial {
	trial := model.Trial{
		Input:  make([][]float64, length),
		Target: make([][]float64, length),
		RSG:    [3]int{ready, set, goT},
	}
	for t := 0; t < length; t++ {
		trial.Input[t] = []float64{float64(t + 1), 0.5}
		trial.Target[t] = []float64{float64(t) / 10}
	}
	return trial
}

func TestStoreLocate(t *testing.T) {
	store, err := NewStore(
		[]model.Trial{mkTrial(10, 1, 2, 4), mkTrial(10, 1, 2, 4), mkTrial(10, 1, 2, 4)},
		[]model.Trial{mkTrial(10, 1, 2, 4), mkTrial(10, 1, 2, 4)},
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Len() != 5 {
		t.Fatalf("unexpected len: got=%d want=5", store.Len())
	}

	cases := []struct {
		index, task, local int
	}{
		{0, 0, 0},
		{2, 0, 2},
		{3, 1, 0},
		{4, 1, 1},
	}
	for _, tc := range cases {
		task, local, err := store.Locate(tc.index)
		if err != nil {
			t.Fatalf("locate %d: %v", tc.index, err)
		}
		if task != tc.task || local != tc.local {
			t.Fatalf("locate %d: got=(%d,%d) want=(%d,%d)", tc.index, task, local, tc.task, tc.local)
		}
	}
	if _, _, err := store.Locate(5); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got: %v", err)
	}
}

func TestStoreItemAppendsContext(t *testing.T) {
	store, err := NewStore([]model.Trial{mkTrial(6, 0, 1, 3)}, []model.Trial{mkTrial(6, 0, 1, 3)})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	item, err := store.Item(1)
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if item.Task != 1 {
		t.Fatalf("unexpected task: got=%d want=1", item.Task)
	}
	if len(item.Input[0]) != 4 || store.InputDim() != 4 {
		t.Fatalf("unexpected input width: got=%d dim=%d want=4", len(item.Input[0]), store.InputDim())
	}
	for tt, x := range item.Input {
		if x[2] != 0 || x[3] != 1 {
			t.Fatalf("t=%d: unexpected context %v", tt, x[2:])
		}
	}

	again, err := store.Item(1)
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if len(again.Input[0]) != 4 {
		t.Fatalf("context appended twice: width=%d", len(again.Input[0]))
	}
}

func TestNewStoreRejectsMalformed(t *testing.T) {
	if _, err := NewStore(); !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("expected ErrEmptyStore, got: %v", err)
	}
	if _, err := NewStore([]model.Trial{mkTrial(5, 3, 2, 4)}); !errors.Is(err, model.ErrMalformedTrial) {
		t.Fatalf("expected ErrMalformedTrial, got: %v", err)
	}
}

func TestCollatePadsToLongest(t *testing.T) {
	items := []model.Trial{mkTrial(7, 1, 2, 4), mkTrial(12, 2, 5, 8), mkTrial(9, 0, 3, 6)}
	b := Collate(items)
	if b.Size() != 3 || b.Len() != 12 {
		t.Fatalf("unexpected batch shape: size=%d len=%d", b.Size(), b.Len())
	}
	want := []int{7, 12, 9}
	for i, n := range b.Lengths {
		if n != want[i] {
			t.Fatalf("length %d: got=%d want=%d", i, n, want[i])
		}
		if len(b.Inputs[i]) != 12 || len(b.Targets[i]) != 12 {
			t.Fatalf("trial %d not padded", i)
		}
		if b.Trials[i].RSG != items[i].RSG {
			t.Fatalf("timestamps changed: got=%v want=%v", b.Trials[i].RSG, items[i].RSG)
		}
	}
	for tt := 7; tt < 12; tt++ {
		if b.Inputs[0][tt][0] != 0 || b.Inputs[0][tt][1] != 0 || b.Targets[0][tt][0] != 0 {
			t.Fatalf("t=%d not zero padded", tt)
		}
	}
	if b.Inputs[0][6][0] != 7 {
		t.Fatalf("data not preserved: got=%v", b.Inputs[0][6])
	}
}

func TestLoaderVisitsEveryIndexOnce(t *testing.T) {
	trials := make([]model.Trial, 10)
	for i := range trials {
		trials[i] = mkTrial(5+i%3, 0, 1, 3)
	}
	store, err := NewStore(trials)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	loader, err := NewLoader(store, nil, 4, true, 7)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	if loader.Len() != 3 {
		t.Fatalf("unexpected batch count: got=%d want=3", loader.Len())
	}

	for epoch := 0; epoch < 2; epoch++ {
		loader.Reset()
		var seen []int
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			seen = append(seen, batch.Indices...)
		}
		sort.Ints(seen)
		if len(seen) != 10 {
			t.Fatalf("epoch %d: visited %d indices", epoch, len(seen))
		}
		for i, idx := range seen {
			if idx != i {
				t.Fatalf("epoch %d: missing or repeated index near %d", epoch, i)
			}
		}
		if batch, err := loader.Next(); batch != nil || err != nil {
			t.Fatalf("expected end of epoch, got batch=%v err=%v", batch, err)
		}
	}
}

func TestLoaderSeededOrder(t *testing.T) {
	trials := make([]model.Trial, 8)
	for i := range trials {
		trials[i] = mkTrial(5, 0, 1, 3)
	}
	store, err := NewStore(trials)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	order := func() []int {
		loader, err := NewLoader(store, nil, 8, true, 3)
		if err != nil {
			t.Fatalf("new loader: %v", err)
		}
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		return batch.Indices
	}
	a, b := order(), order()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded shuffle differs: %v vs %v", a, b)
		}
	}
}

func TestSplit(t *testing.T) {
	trials := make([]model.Trial, 10)
	for i := range trials {
		trials[i] = mkTrial(5, 0, 1, 3)
	}
	store, err := NewStore(trials)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	train, test, err := Split(store, 0.2, 1)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(train) != 8 || len(test) != 2 {
		t.Fatalf("unexpected split sizes: train=%d test=%d", len(train), len(test))
	}
	all := append(append([]int(nil), train...), test...)
	sort.Ints(all)
	for i, idx := range all {
		if idx != i {
			t.Fatalf("split lost or repeated index near %d", i)
		}
	}
	if _, _, err := Split(store, 1, 1); err == nil {
		t.Fatal("expected error for fraction=1")
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sets", "rsg.json")
	in := []model.Trial{mkTrial(6, 0, 2, 4), mkTrial(8, 1, 3, 6)}
	if err := SaveFile(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 || out[1].RSG != in[1].RSG || out[1].Input[7][0] != 8 {
		t.Fatalf("unexpected round trip: %+v", out)
	}

	store, err := LoadStore(path, path)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	if store.Len() != 4 || store.Contexts() != 2 {
		t.Fatalf("unexpected store: len=%d contexts=%d", store.Len(), store.Contexts())
	}
}
