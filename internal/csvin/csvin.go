// Package csvin reads input queries from a delimited file with a header row.
package csvin

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/molsearch"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read parses queries from r. smilesCol names the molecule column; idCol, when not empty,
// names the identifier column. Rows without a molecule are skipped and rows without an
// identifier are identified by their 1-based data row number.
// A missing header or a missing requested column is a configuration error.
func Read(r io.Reader, smilesCol, idCol string) ([]molsearch.Query, error) {
	br := bufio.NewReader(r)
	if first3, _ := br.Peek(3); len(first3) == 3 && string(first3) == string(utf8BOM) {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.Mark(errors.New("input has no header row"), molsearch.ErrConfig)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read input header"), molsearch.ErrConfig)
	}

	smilesIdx := columnIndex(header, smilesCol)
	if smilesIdx < 0 {
		return nil, errors.Mark(errors.Newf("column %q not found, available: %s", smilesCol, strings.Join(header, ", ")), molsearch.ErrConfig)
	}
	idIdx := -1
	if idCol != "" {
		if idIdx = columnIndex(header, idCol); idIdx < 0 {
			return nil, errors.Mark(errors.Newf("id column %q not found, available: %s", idCol, strings.Join(header, ", ")), molsearch.ErrConfig)
		}
	}

	var queries []molsearch.Query
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read input row %d", row), molsearch.ErrConfig)
		}

		smiles := field(rec, smilesIdx)
		if smiles == "" {
			continue
		}
		id := field(rec, idIdx)
		if id == "" {
			id = strconv.Itoa(row)
		}
		queries = append(queries, molsearch.Query{ID: id, Molecule: smiles})
	}
	return queries, nil
}

// ReadFile reads queries from the file at path.
func ReadFile(path, smilesCol, idCol string) ([]molsearch.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open input %s", path), molsearch.ErrConfig)
	}
	defer f.Close()

	qs, err := Read(f, smilesCol, idCol)
	if err != nil {
		return nil, errors.Wrapf(err, "input %s", path)
	}
	return qs, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}
