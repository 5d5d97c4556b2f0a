package metadump

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/miku/metadump/fileutils"
)

// StreamMetadata drains seq into w as a pretty printed JSON array and
// returns the number of elements written. One element is serialized per
// pulled record, in yield order; the next record is not pulled before the
// previous write has been accepted by w, which is all the backpressure an
// io.Writer affords. An empty sequence still produces a well formed, empty
// array. Progress lines go to progress, one per record.
//
// Errors from the sequence or the sink abort the stream as is; whatever has
// been written stays written.
func StreamMetadata(ctx context.Context, seq *Sequence, w io.Writer, progress io.Writer) (int, error) {
	if progress == nil {
		progress = io.Discard
	}
	var n int
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return n, err
	}
	for {
		rec, err := seq.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		fmt.Fprintf(progress, "[%d/%d] %s\n", rec.Index+1, rec.Total, rec.Metadata.DisplayName())
		b, err := json.MarshalIndent(rec.Metadata, "  ", "  ")
		if err != nil {
			return n, err
		}
		sep := ",\n  "
		if n == 0 {
			sep = "  "
		}
		if _, err := w.Write(append([]byte(sep), b...)); err != nil {
			return n, err
		}
		n++
	}
	if _, err := io.WriteString(w, "\n]\n"); err != nil {
		return n, err
	}
	return n, nil
}

// StreamMetadataToFile streams seq into a file at path and returns the
// element count. The file is synced and closed before return. On failure a
// truncated file may remain; use StreamMetadataToFileAtomic to avoid that.
func StreamMetadataToFile(ctx context.Context, seq *Sequence, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(f)
	n, err := StreamMetadata(ctx, seq, bw, os.Stderr)
	if err != nil {
		f.Close()
		return n, err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return n, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return n, err
	}
	return n, f.Close()
}

// StreamMetadataToFileAtomic streams into a temporary file next to path and
// moves it into place only after a complete, synced write. A failed run
// leaves the previous file untouched.
func StreamMetadataToFileAtomic(ctx context.Context, seq *Sequence, path string) (int, error) {
	tmpf, err := os.CreateTemp(filepath.Dir(path), ".metadump-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmpf.Name())
	tmpf.Close()
	n, err := StreamMetadataToFile(ctx, seq, tmpf.Name())
	if err != nil {
		return n, err
	}
	return n, fileutils.MoveFile(path, tmpf.Name())
}
