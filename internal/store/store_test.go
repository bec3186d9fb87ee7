package store

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/core"
	"firestige.xyz/tsnstream/internal/stream"
)

func testStream(id uint32) config.StreamEntry {
	ports, _ := stream.NewPortList(1, 2)
	ip4 := stream.ProtoIPv4{
		SIP:  stream.IPNetwork{Address: netip.MustParseAddr("10.0.0.0"), PrefixLen: 8},
		DSCP: stream.Range{MatchType: stream.RangeMatchValue, Low: 46},
	}
	return config.StreamEntry{
		ID: id,
		ConfDoc: stream.ConfDoc{
			DMAC:     stream.DMAC{MatchType: stream.DMACMatchMC},
			Protocol: stream.ProtocolDoc{Type: stream.ProtocolIPv4, IPv4: &ip4},
			Ports:    ports,
		},
		PSFP: &stream.Action{Enable: true, ClientID: 4},
	}
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "entries"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Basic CRUD
// ---------------------------------------------------------------------------

func TestFileStore_SaveList(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveStream(testStream(7)); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	if err := s.SaveStream(testStream(3)); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	if err := s.SaveCollection(config.CollectionEntry{ID: 1, StreamIDs: []uint32{3, 7}}); err != nil {
		t.Fatalf("SaveCollection: %v", err)
	}

	streams, collections, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(streams) != 2 || streams[0].ID != 3 || streams[1].ID != 7 {
		t.Fatalf("streams: got %+v, want ids [3 7]", streams)
	}
	if len(collections) != 1 || len(collections[0].StreamIDs) != 2 {
		t.Fatalf("collections: got %+v", collections)
	}

	conf, err := streams[0].ConfDoc.Conf()
	if err != nil {
		t.Fatalf("Conf: %v", err)
	}
	want, _ := testStream(3).ConfDoc.Conf()
	if conf != want {
		t.Errorf("conf: got %+v, want %+v", conf, want)
	}
	if streams[0].PSFP == nil || streams[0].PSFP.ClientID != 4 {
		t.Errorf("psfp action lost: %+v", streams[0].PSFP)
	}
	if streams[0].FRER != nil {
		t.Errorf("unexpected frer action: %+v", streams[0].FRER)
	}
}

func TestFileStore_Delete(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveStream(testStream(1)); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	if err := s.DeleteStream(1); err != nil {
		t.Fatalf("DeleteStream: %v", err)
	}
	streams, _, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(streams) != 0 {
		t.Errorf("expected no streams after delete, got %d", len(streams))
	}

	// Idempotent
	if err := s.DeleteStream(1); err != nil {
		t.Errorf("second DeleteStream: %v", err)
	}
	if err := s.DeleteCollection(5); err != nil {
		t.Errorf("DeleteCollection of missing entry: %v", err)
	}
}

func TestFileStore_SaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	e := testStream(2)
	if err := s.SaveStream(e); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	e.PSFP = nil
	if err := s.SaveStream(e); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	streams, _, _ := s.List()
	if len(streams) != 1 || streams[0].PSFP != nil {
		t.Errorf("expected overwritten entry without psfp, got %+v", streams)
	}
}

// ---------------------------------------------------------------------------
// Atomic write: no .tmp file left after Save
// ---------------------------------------------------------------------------

func TestFileStore_AtomicWrite_NoTmpFileAfterSave(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveStream(testStream(1)); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("unexpected .tmp file after Save: %s", e.Name())
		}
	}
}

func TestFileStore_ConcurrentSave(t *testing.T) {
	s := newTestStore(t)
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			e := testStream(9)
			e.PSFP.ClientID = uint32(i)
			errs[i] = s.SaveStream(e)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d SaveStream error: %v", i, err)
		}
	}
	streams, _, err := s.List()
	if err != nil || len(streams) != 1 {
		t.Errorf("List after concurrent saves: %d entries, %v", len(streams), err)
	}
}

// ---------------------------------------------------------------------------
// Corrupt and stray files
// ---------------------------------------------------------------------------

func TestFileStore_List_SkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveStream(testStream(1)); err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(s.Dir(), name), []byte(body), 0o640); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	write("stream-2.json", "{invalid json")
	write("stream-3.json", `{"version":"v1","stream":{"id":4}}`)
	write("collection-1.json", `{"version":"v0","collection":{"id":1}}`)
	write(".stream-1.json.123.tmp", "{}")
	write("notes.json", "{}")

	streams, collections, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(streams) != 1 || streams[0].ID != 1 {
		t.Errorf("expected only stream 1, got %+v", streams)
	}
	if len(collections) != 0 {
		t.Errorf("expected no collections, got %+v", collections)
	}

	_, err = s.load("stream-3.json", kindStream, 3)
	if !errors.Is(err, core.ErrStoreCorrupt) {
		t.Errorf("expected ErrStoreCorrupt for mismatched body, got %v", err)
	}
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name string
		kind kind
		id   uint32
		ok   bool
	}{
		{"stream-12.json", kindStream, 12, true},
		{"collection-3.json", kindCollection, 3, true},
		{"stream-x.json", "", 0, false},
		{"flow-1.json", "", 0, false},
		{".stream-1.json", "", 0, false},
		{"stream-1.json.tmp", "", 0, false},
	}
	for _, tt := range tests {
		k, id, ok := parseFileName(tt.name)
		if k != tt.kind || id != tt.id || ok != tt.ok {
			t.Errorf("parseFileName(%q) = %q, %d, %v", tt.name, k, id, ok)
		}
	}
}

func TestMerge(t *testing.T) {
	declared := []config.StreamEntry{testStream(1), testStream(2)}
	stored := testStream(2)
	stored.PSFP = nil
	streams, collections := Merge(declared, nil, []config.StreamEntry{stored, testStream(5)},
		[]config.CollectionEntry{{ID: 1}})

	if len(streams) != 3 || streams[0].ID != 1 || streams[1].ID != 2 || streams[2].ID != 5 {
		t.Fatalf("unexpected merge order: %+v", streams)
	}
	if streams[1].PSFP != nil {
		t.Error("stored entry should replace the declared one")
	}
	if len(collections) != 1 {
		t.Errorf("expected 1 collection, got %d", len(collections))
	}
}

func TestNoopStore(t *testing.T) {
	s := Noop()
	if err := s.SaveStream(testStream(1)); err != nil {
		t.Errorf("SaveStream: %v", err)
	}
	if err := s.DeleteCollection(1); err != nil {
		t.Errorf("DeleteCollection: %v", err)
	}
	streams, collections, err := s.List()
	if err != nil || streams != nil || collections != nil {
		t.Errorf("List: %v %v %v", streams, collections, err)
	}
}
