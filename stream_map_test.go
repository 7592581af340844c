package yamux

import (
	"testing"

	"github.com/streammux/yamux/internal/frame"
)

func TestStreamTableSetGetDelete(t *testing.T) {
	tbl := newStreamTable()
	s := &Stream{id: 3}

	if _, ok := tbl.get(3); ok {
		t.Fatal("get on empty table found something")
	}

	tbl.set(3, s)
	got, ok := tbl.get(3)
	if !ok || got != s {
		t.Fatalf("get(3) = %v, %v; want inserted stream, true", got, ok)
	}
	if tbl.len() != 1 {
		t.Fatalf("len() = %d, want 1", tbl.len())
	}

	tbl.delete(3)
	if _, ok := tbl.get(3); ok {
		t.Fatal("get after delete found something")
	}
	if tbl.len() != 0 {
		t.Fatalf("len() after delete = %d, want 0", tbl.len())
	}
}

func TestStreamTableEachSnapshotsAndAllowsMutation(t *testing.T) {
	tbl := newStreamTable()
	for i := frame.StreamId(1); i <= 5; i += 2 {
		tbl.set(i, &Stream{id: i})
	}

	visited := 0
	tbl.each(func(id frame.StreamId, s *Stream) {
		visited++
		// each must tolerate the callback mutating the table it snapshotted.
		tbl.delete(id)
	})

	if visited != 3 {
		t.Fatalf("each visited %d entries, want 3", visited)
	}
	if tbl.len() != 0 {
		t.Fatalf("len() after each-driven deletes = %d, want 0", tbl.len())
	}
}
