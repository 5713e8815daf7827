package handle

import (
	"testing"
	"time"

	"github.com/r7-consult/wasm-sqlite-database/internal/werr"
)

// fakeWorkbook is a minimal Workbook double so eviction can be tested
// without an actual workbook.EngineContext.
type fakeWorkbook struct {
	bytes  int64
	closed bool
}

func (f *fakeWorkbook) ApproxResidentBytes() int64 { return f.bytes }
func (f *fakeWorkbook) Close() error               { f.closed = true; return nil }

func TestOpenAssignsDistinctHandles(t *testing.T) {
	m := NewManager(4, 1<<30)
	h1, err := m.Open(&fakeWorkbook{bytes: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h2, err := m.Open(&fakeWorkbook{bytes: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h1 == 0 || h2 == 0 {
		t.Errorf("handles must be non-zero, got %d and %d", h1, h2)
	}
	if h1 == h2 {
		t.Errorf("expected distinct handles, got %d twice", h1)
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}

func TestGetUnknownHandleFails(t *testing.T) {
	m := NewManager(4, 1<<30)
	if _, err := m.Get(Handle(999)); werr.CodeOf(err) != werr.InvalidHandle {
		t.Errorf("Get on unknown handle: got %v, want InvalidHandle", err)
	}
}

func TestCloseRemovesAndClosesWorkbook(t *testing.T) {
	m := NewManager(4, 1<<30)
	wb := &fakeWorkbook{bytes: 1}
	h, err := m.Open(wb)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !wb.closed {
		t.Errorf("expected workbook to be closed")
	}
	if _, err := m.Get(h); werr.CodeOf(err) != werr.InvalidHandle {
		t.Errorf("Get after Close: got %v, want InvalidHandle", err)
	}
	if err := m.Close(h); werr.CodeOf(err) != werr.InvalidHandle {
		t.Errorf("double Close: got %v, want InvalidHandle", err)
	}
}

// TestOpenEvictsLeastRecentlyUsedByCount exercises the resident-count bound:
// opening one workbook beyond maxActive evicts the least-recently-used one.
func TestOpenEvictsLeastRecentlyUsedByCount(t *testing.T) {
	m := NewManager(2, 1<<30)
	wb1 := &fakeWorkbook{bytes: 1}
	wb2 := &fakeWorkbook{bytes: 1}
	wb3 := &fakeWorkbook{bytes: 1}

	h1, err := m.Open(wb1)
	if err != nil {
		t.Fatalf("Open wb1: %v", err)
	}
	time.Sleep(time.Millisecond)
	h2, err := m.Open(wb2)
	if err != nil {
		t.Fatalf("Open wb2: %v", err)
	}
	time.Sleep(time.Millisecond)

	// Touch h2 so h1 is strictly the least-recently-used before wb3 opens.
	if _, err := m.Get(h2); err != nil {
		t.Fatalf("Get h2: %v", err)
	}
	time.Sleep(time.Millisecond)

	h3, err := m.Open(wb3)
	if err != nil {
		t.Fatalf("Open wb3: %v", err)
	}

	if !wb1.closed {
		t.Errorf("least-recently-used workbook was not evicted")
	}
	if wb2.closed || wb3.closed {
		t.Errorf("wrong workbook evicted: wb2.closed=%v wb3.closed=%v", wb2.closed, wb3.closed)
	}
	if _, err := m.Get(h1); werr.CodeOf(err) != werr.InvalidHandle {
		t.Errorf("Get evicted h1: got %v, want InvalidHandle", err)
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
	_ = h3
}

// TestJustOpenedWorkbookNeverEvictedByItself verifies that opening a
// workbook whose own size exceeds maxResidentBytes evicts older entries
// around it rather than the one just admitted.
func TestJustOpenedWorkbookNeverEvictedByItself(t *testing.T) {
	m := NewManager(4, 150)
	wbOld := &fakeWorkbook{bytes: 100}
	_, err := m.Open(wbOld)
	if err != nil {
		t.Fatalf("Open wbOld: %v", err)
	}
	time.Sleep(time.Millisecond)

	wbNew := &fakeWorkbook{bytes: 100}
	hNew, err := m.Open(wbNew)
	if err != nil {
		t.Fatalf("Open wbNew: %v", err)
	}

	if wbNew.closed {
		t.Errorf("just-opened workbook must never be evicted by its own admission")
	}
	if !wbOld.closed {
		t.Errorf("older workbook should have been evicted to respect the resident-byte bound")
	}
	if _, err := m.Get(hNew); err != nil {
		t.Errorf("Get on just-opened handle: %v", err)
	}
}

// TestResidentByteBoundEvictsEvenUnderMaxActive verifies eviction can be
// triggered purely by the byte bound, independent of the active-count cap.
func TestResidentByteBoundEvictsEvenUnderMaxActive(t *testing.T) {
	m := NewManager(10, 100)
	wb1 := &fakeWorkbook{bytes: 60}
	_, err := m.Open(wb1)
	if err != nil {
		t.Fatalf("Open wb1: %v", err)
	}
	time.Sleep(time.Millisecond)

	wb2 := &fakeWorkbook{bytes: 60}
	_, err = m.Open(wb2)
	if err != nil {
		t.Fatalf("Open wb2: %v", err)
	}

	if !wb1.closed {
		t.Errorf("expected wb1 to be evicted once combined resident bytes exceeded the bound")
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

// TestOpenFailsWhenNoWorkbookCanBeEvicted verifies Open surfaces
// InternalError rather than looping forever when every slot is pinned by
// the handle being opened (maxActive of 0 means even the first Open has
// nothing to evict).
func TestOpenFailsWhenNoWorkbookCanBeEvicted(t *testing.T) {
	m := NewManager(0, 1<<30)
	if _, err := m.Open(&fakeWorkbook{bytes: 1}); werr.CodeOf(err) != werr.InternalError {
		t.Errorf("Open with maxActive=0: got %v, want InternalError", err)
	}
}
