// Package csvsink writes result rows to an append-only CSV file that survives restarts.
package csvsink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/molsearch"
	"github.com/letmevibethatforyou/molsearch/sink"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Sink is a molsearch.Sink backed by a CSV file.
// The file is opened once in append mode; rows already in it are never rewritten.
type Sink struct {
	mu        sync.Mutex
	path      string
	f         *os.File
	processed map[string]struct{}
}

var _ molsearch.Sink = (*Sink)(nil)

// Open prepares path for appending according to mode. The parent directory is created and
// the header row is written if the file is absent or empty.
func Open(path string, mode sink.Mode) (*Sink, error) {
	if mode == sink.ModeOverwrite {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "remove %s", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath(path)), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", path)
	}

	if err := trimTornTail(path); err != nil {
		return nil, errors.Wrapf(err, "repair %s", path)
	}

	processed := make(map[string]struct{})
	if mode == sink.ModeResume {
		processed = ScanQueryIDs(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if fi.Size() == 0 {
		if err := writeRecords(f, [][]string{molsearch.Header}); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "write header to %s", path)
		}
	}

	return &Sink{path: path, f: f, processed: processed}, nil
}

// IsProcessed reports whether queryID was found on open (resume mode) or appended since.
func (s *Sink) IsProcessed(queryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[queryID]
	return ok
}

// Append writes all rows of q in a single write, fsyncs, then marks q processed.
// A query with no hits leaves no trace in the file.
func (s *Sink) Append(ctx context.Context, q molsearch.Query, hits []molsearch.Hit) error {
	if err := ctx.Err(); err != nil {
		return errors.WithSecondaryError(molsearch.ErrCanceled, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return errors.Newf("sink %s is closed", s.path)
	}

	if len(hits) > 0 {
		rows := molsearch.Rows(q, hits)
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, r.Record())
		}
		if err := writeRecords(s.f, records); err != nil {
			return errors.Wrapf(err, "append %d rows for query %s to %s", len(records), q.ID, s.path)
		}
	}

	s.processed[q.ID] = struct{}{}
	return nil
}

// Location returns the file path.
func (s *Sink) Location() string {
	return s.path
}

// Close closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// writeRecords encodes records up front so that the file sees one write per call.
func writeRecords(f *os.File, records [][]string) error {
	var buf bytes.Buffer
	if err := csv.NewWriter(&buf).WriteAll(records); err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	return f.Sync()
}

// committedSize returns the length of the complete records among the first size bytes of r.
// Anything after it was cut short by an interrupted write.
func committedSize(r io.ReaderAt, size int64) (int64, error) {
	end, err := lastLineEnd(r, size)
	if err != nil || end == 0 {
		return end, err
	}

	cr := csv.NewReader(io.NewSectionReader(r, 0, end))
	cr.FieldsPerRecord = -1
	var good int64
	quoteOpen := false
	for {
		_, err := cr.Read()
		if err == io.EOF {
			if quoteOpen {
				// an open quote ran to the end of the file
				return good, nil
			}
			return end, nil
		}
		var parseErr *csv.ParseError
		switch {
		case err == nil:
			quoteOpen = false
			good = cr.InputOffset()
		case errors.As(err, &parseErr):
			quoteOpen = errors.Is(parseErr.Err, csv.ErrQuote)
		default:
			return 0, err
		}
	}
}

// lastLineEnd returns the offset just past the last newline of the first size bytes of r.
func lastLineEnd(r io.ReaderAt, size int64) (int64, error) {
	buf := make([]byte, 4096)
	for end := size; end > 0; {
		start := max(end-int64(len(buf)), 0)
		n, err := r.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// trimTornTail cuts an existing file back to its last complete record.
func trimTornTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	end, err := committedSize(f, fi.Size())
	if err != nil {
		return err
	}
	if end == fi.Size() {
		return nil
	}
	if err := f.Truncate(end); err != nil {
		return err
	}
	return f.Sync()
}

// ScanQueryIDs returns the query_id values of an existing output file.
// A missing or unreadable file, a missing header or a header without query_id all
// yield an empty set. A last record without a line terminator is not counted.
func ScanQueryIDs(path string) map[string]struct{} {
	out := make(map[string]struct{})
	f, err := os.Open(path)
	if err != nil {
		return out
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return out
	}
	end, err := committedSize(f, fi.Size())
	if err != nil {
		return out
	}
	return scanQueryIDs(io.NewSectionReader(f, 0, end), out)
}

func scanQueryIDs(rd io.Reader, out map[string]struct{}) map[string]struct{} {
	// skip BOM if present
	br := bufio.NewReader(rd)
	if first3, _ := br.Peek(3); len(first3) == 3 && string(first3) == string(utf8BOM) {
		_, _ = br.Discard(3)
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return out
	}
	idx := -1
	for i, h := range header {
		if strings.TrimSpace(h) == molsearch.Header[0] {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// skip malformed records such as a line torn by an interrupted run
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			break
		}
		if len(row) <= idx {
			continue
		}
		if id := strings.TrimSpace(row[idx]); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

func absPath(p string) string {
	ap, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return ap
}
