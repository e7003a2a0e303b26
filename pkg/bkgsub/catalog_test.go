package bkgsub

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileCatalog(t *testing.T) {
	src := `[
  {"id": 1, "abmag": 21.5, "orders": {"1": {"ymin": 10.2, "ymax": 20.7, "xmin": 5.1, "xmax": 15.9},
                                      "2": {"ymin": 30, "ymax": 35, "xmin": 5, "xmax": 40}}},
  {"id": 2, "abmag": 26.0, "orders": {"1": {"ymin": 0, "ymax": 4, "xmin": 0, "xmax": 4}}}
]`
	path := filepath.Join(t.TempDir(), "sources.json")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cat := &FileCatalog{Path: path}

	all, err := cat.GrismObjects(nil, "wlrange", 0)
	if err != nil {
		t.Fatalf("GrismObjects: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d objects, want 2 with no magnitude cut", len(all))
	}
	if len(all[0].OrderBounding) != 2 {
		t.Fatalf("object 1 has %d orders, want 2", len(all[0].OrderBounding))
	}
	box := all[0].OrderBounding[1]
	if box.YMin != 10.2 || box.YMax != 20.7 || box.XMin != 5.1 || box.XMax != 15.9 {
		t.Fatalf("order 1 box = %+v", box)
	}

	// Faint source excluded by the magnitude cut.
	bright, err := cat.GrismObjects(nil, "wlrange", 25.0)
	if err != nil {
		t.Fatalf("GrismObjects: %v", err)
	}
	if len(bright) != 1 || bright[0].ID != 1 {
		t.Fatalf("magnitude cut kept %d objects, want only object 1", len(bright))
	}
}

func TestFileCatalogMissingFile(t *testing.T) {
	cat := &FileCatalog{Path: filepath.Join(t.TempDir(), "absent.json")}
	if _, err := cat.GrismObjects(nil, "wlrange", 0); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}
