package store

import "testing"

func TestAllIndexesCoversEveryCollection(t *testing.T) {
	t.Parallel()
	indexes := allIndexes()
	seen := map[string]int{}
	for _, idx := range indexes {
		seen[idx.collection]++
	}
	for _, c := range []string{ordersCollection, positionsCollection, updateLogCollection} {
		if seen[c] == 0 {
			t.Errorf("expected at least one index on %s", c)
		}
	}
	if seen[ordersCollection] < 3 {
		t.Errorf("expected the id/unique + two compound indexes on %s, got %d", ordersCollection, seen[ordersCollection])
	}
	if seen[positionsCollection] < 2 {
		t.Errorf("expected the id/unique + compound index on %s, got %d", positionsCollection, seen[positionsCollection])
	}
}
