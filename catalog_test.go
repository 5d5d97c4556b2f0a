package metadump

import (
	"path/filepath"
	"testing"
)

func TestCatalog(t *testing.T) {
	c := &Catalog{Path: filepath.Join(t.TempDir(), "catalog.db")}
	if err := c.EnsureDB(); err != nil {
		t.Fatalf("could not create db: %v", err)
	}
	defer c.Close()
	runID, err := c.StartRun("pub-1")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if runID == 0 {
		t.Fatal("expected non-zero run id")
	}
	if err := c.RecordItem(runID, "item-1", OutcomeWritten); err != nil {
		t.Fatalf("record item: %v", err)
	}
	if err := c.RecordItem(runID, "item-2", OutcomeSkipped); err != nil {
		t.Fatalf("record item: %v", err)
	}
	if err := c.FinishRun(runID, 2, 1, 1); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	var run struct {
		Publisher string `db:"publisher"`
		Total     int    `db:"total"`
		Written   int    `db:"written"`
		Skipped   int    `db:"skipped"`
	}
	err = c.db.Get(&run, `select publisher, total, written, skipped from runs where id = ?`, runID)
	if err != nil {
		t.Fatalf("read back run: %v", err)
	}
	if run.Publisher != "pub-1" || run.Total != 2 || run.Written != 1 || run.Skipped != 1 {
		t.Errorf("unexpected run row: %+v", run)
	}
	var outcomes []string
	err = c.db.Select(&outcomes, `select outcome from run_items where run_id = ? order by item_id`, runID)
	if err != nil {
		t.Fatalf("read back items: %v", err)
	}
	if len(outcomes) != 2 || outcomes[0] != OutcomeWritten || outcomes[1] != OutcomeSkipped {
		t.Errorf("unexpected outcomes: %v", outcomes)
	}
}

func TestCatalogEnsureDBIdempotent(t *testing.T) {
	c := &Catalog{Path: filepath.Join(t.TempDir(), "catalog.db")}
	if err := c.EnsureDB(); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	defer c.Close()
	if err := c.EnsureDB(); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}
