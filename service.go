package metadump

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/miku/metadump/items"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	defaultMinFreeDiskPercent = 10
	defaultRetryAfterSeconds  = 60
)

// DumpService serves a previously written metadata dump file over HTTP and
// can refresh it on demand.
type DumpService struct {
	// Path of the dump file served and rewritten by refresh.
	Path string
	// Refresh re-runs the aggregation and rewrites Path, returning the
	// element count. Optional; refresh answers 501 when unset.
	Refresh func(ctx context.Context) (int, error)
	// Minimum required free disk space percentage before a refresh is
	// allowed (default 10%).
	MinFreeDiskPercent int
	// Timeout for one refresh run.
	RefreshTimeout time.Duration
}

// dumpStatus is the status endpoint response.
type dumpStatus struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime string `json:"t"`
	Count   int    `json:"count"`
}

// hasSufficientDiskSpace checks free space on the filesystem holding the
// dump file. The check runs against the containing directory, since the file
// itself does not exist before the first successful refresh.
func (svc *DumpService) hasSufficientDiskSpace() (bool, error) {
	minPercent := svc.MinFreeDiskPercent
	if minPercent <= 0 {
		minPercent = defaultMinFreeDiskPercent
	}
	usage, err := disk.Usage(filepath.Dir(svc.Path))
	if err != nil {
		return false, err
	}
	freePercent := usage.Free * 100 / usage.Total
	return freePercent >= uint64(minPercent), nil
}

// DumpHandler streams the raw JSON array file.
func (svc *DumpService) DumpHandler(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(svc.Path)
	if err != nil {
		slog.Warn("no dump file yet", "path", svc.Path, "err", err)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/json")
	http.ServeContent(w, r, "items.json", time.Time{}, f)
}

// ItemHandler returns the single array element matching the id in the URL.
// The file is decoded incrementally, so lookups do not load the whole array.
func (svc *DumpService) ItemHandler(w http.ResponseWriter, r *http.Request) {
	var (
		vars = mux.Vars(r)
		id   = vars["id"]
	)
	f, err := os.Open(svc.Path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if _, err := dec.Token(); err != nil { // opening [
		slog.Error("malformed dump file", "path", svc.Path, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for dec.More() {
		var m items.ItemMetadata
		if err := dec.Decode(&m); err != nil {
			slog.Error("malformed dump element", "path", svc.Path, "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if m.ID == id {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(m); err != nil {
				slog.Error("encoding error", "err", err)
			}
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

// StatusHandler reports dump file size, modification time and element count.
func (svc *DumpService) StatusHandler(w http.ResponseWriter, r *http.Request) {
	fi, err := os.Stat(svc.Path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	count, err := svc.countElements()
	if err != nil {
		slog.Error("failed to count dump elements", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	status := dumpStatus{
		Path:    svc.Path,
		Size:    fi.Size(),
		ModTime: fi.ModTime().Format(time.RFC3339),
		Count:   count,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Error("encoding error", "err", err)
	}
}

func (svc *DumpService) countElements() (int, error) {
	f, err := os.Open(svc.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if _, err := dec.Token(); err != nil {
		return 0, err
	}
	var count int
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// RefreshHandler re-runs the aggregation, guarded by a free disk space
// check. A full disk answers 429 with a Retry-After hint.
func (svc *DumpService) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if svc.Refresh == nil {
		http.Error(w, "refresh not configured", http.StatusNotImplemented)
		return
	}
	ok, err := svc.hasSufficientDiskSpace()
	if err != nil {
		slog.Error("failed to check disk space", "err", err, "path", svc.Path)
		http.Error(w, "failed to check available disk space", http.StatusInternalServerError)
		return
	}
	if !ok {
		slog.Warn("insufficient disk space, rejecting refresh", "path", svc.Path)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", defaultRetryAfterSeconds))
		http.Error(w, "insufficient disk space", http.StatusTooManyRequests)
		return
	}
	timeout := svc.RefreshTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	// A refresh may run far longer than the server write timeout; lift the
	// deadline for this response so a slow but successful run still gets
	// its count back to the caller.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	started := time.Now()
	count, err := svc.Refresh(ctx)
	if err != nil {
		slog.Error("refresh failed", "err", err)
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}
	slog.Info("dump refreshed", "count", count, "t", time.Since(started))
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"count": %d}`+"\n", count)
}

// Routes attaches all handlers to a router.
func (svc *DumpService) Routes(r *mux.Router) {
	r.HandleFunc("/dump", svc.DumpHandler).Methods("GET")
	r.HandleFunc("/items/{id}", svc.ItemHandler).Methods("GET")
	r.HandleFunc("/status", svc.StatusHandler).Methods("GET")
	r.HandleFunc("/refresh", svc.RefreshHandler).Methods("POST")
}
