package metadump

import (
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const catalogSchema = `
create table if not exists runs (
	id        integer primary key autoincrement,
	publisher text not null,
	started   datetime not null,
	finished  datetime,
	total     integer not null default 0,
	written   integer not null default 0,
	skipped   integer not null default 0
);
create table if not exists run_items (
	run_id  integer not null,
	item_id text not null,
	outcome text not null,
	timestamp datetime default CURRENT_TIMESTAMP
);
create index if not exists index_run_items on run_items(run_id, item_id);
`

// Item outcomes recorded in the catalog.
const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
)

// Catalog wraps an sqlite3 database recording dump runs and per-item
// outcomes, so consecutive runs can be compared.
type Catalog struct {
	Path string
	mu   sync.Mutex
	db   *sqlx.DB
}

// EnsureDB creates a new database with schema, if it is not already set up.
func (c *Catalog) EnsureDB() error {
	if c.db != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := sqlx.Connect("sqlite", c.Path)
	if err != nil {
		return err
	}
	_, err = db.Exec(catalogSchema)
	if err != nil {
		return err
	}
	c.db = db
	return nil
}

// StartRun records the beginning of a dump run and returns its id. We lock
// at the application level to avoid 'database is locked (5) (SQLITE_BUSY)'.
func (c *Catalog) StartRun(publisher string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec(`insert into runs (publisher, started) values (?, ?)`,
		publisher, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordItem records the outcome for one item within a run.
func (c *Catalog) RecordItem(runID int64, itemID, outcome string) error {
	c.mu.Lock()
	_, err := c.db.Exec(`insert into run_items (run_id, item_id, outcome) values (?, ?, ?)`,
		runID, itemID, outcome)
	c.mu.Unlock()
	return err
}

// FinishRun closes out a run with its final counters.
func (c *Catalog) FinishRun(runID int64, total, written, skipped int) error {
	c.mu.Lock()
	_, err := c.db.Exec(`update runs set finished = ?, total = ?, written = ?, skipped = ? where id = ?`,
		time.Now().UTC(), total, written, skipped, runID)
	c.mu.Unlock()
	return err
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
