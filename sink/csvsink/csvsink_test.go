package csvsink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letmevibethatforyou/molsearch"
	"github.com/letmevibethatforyou/molsearch/sink"
)

const header = "query_id,query_smiles,hit_smiles,hit_id,similarity\n"

func sim(f float64) *float64 { return &f }

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestHeaderWrittenOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.csv")

	s, err := Open(path, sink.ModeAppend)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, molsearch.Query{ID: "q1", Molecule: "CCO"}, []molsearch.Hit{
		{Molecule: "CCN", ID: "Z1", Similarity: sim(0.75)},
		{Molecule: "C,C", ID: "Z2"},
	}))
	require.NoError(t, s.Append(ctx, molsearch.Query{ID: "q2", Molecule: "CC"}, []molsearch.Hit{
		{Molecule: "CCC", ID: "Z3", Similarity: sim(0.5)},
	}))
	require.NoError(t, s.Close())

	assert.Equal(t, header+
		"q1,CCO,CCN,Z1,0.75\n"+
		"q1,CCO,\"C,C\",Z2,\n"+
		"q2,CC,CCC,Z3,0.5\n", readFile(t, path))

	// reopening a non-empty file never adds a second header
	s, err = Open(path, sink.ModeResume)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, molsearch.Query{ID: "q3", Molecule: "N"}, []molsearch.Hit{{Molecule: "NN", ID: "Z4"}}))
	require.NoError(t, s.Close())

	content := readFile(t, path)
	assert.Equal(t, 1, strings.Count(content, "query_id,"))
	assert.True(t, strings.HasSuffix(content, "q3,N,NN,Z4,\n"))
}

func TestHeaderWrittenToEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	s, err := Open(path, sink.ModeResume)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, header, readFile(t, path))
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.csv")

	s, err := Open(path, sink.ModeOverwrite)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, molsearch.Query{ID: "q1", Molecule: "CCO"}, []molsearch.Hit{{Molecule: "A", ID: "1"}}))
	require.NoError(t, s.Append(ctx, molsearch.Query{ID: "q2", Molecule: "CCO"}, nil))
	assert.True(t, s.IsProcessed("q1"))
	assert.True(t, s.IsProcessed("q2"))
	require.NoError(t, s.Close())

	s, err = Open(path, sink.ModeResume)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsProcessed("q1"))
	// zero-hit queries leave nothing durable behind
	assert.False(t, s.IsProcessed("q2"))
	assert.Equal(t, path, s.Location())

	s2, err := Open(path, sink.ModeAppend)
	require.NoError(t, err)
	defer s2.Close()
	assert.False(t, s2.IsProcessed("q1"))
}

func TestOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"old,CCO,A,1,\n"), 0o644))

	s, err := Open(path, sink.ModeOverwrite)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, header, readFile(t, path))
}

func TestScanQueryIDs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "plain", content: header + "q1,a,b,c,\nq2,a,b,c,0.1\nq1,a,b,c,\n", want: []string{"q1", "q2"}},
		{name: "bom", content: "\xEF\xBB\xBF" + header + "q1,a,b,c,\n", want: []string{"q1"}},
		{name: "column moved", content: "x,query_id\n1,q9\n", want: []string{"q9"}},
		{name: "no query_id column", content: "a,b\n1,2\n"},
		{name: "empty file"},
		{name: "short and blank rows", content: header + "\n ,x\nq5\n", want: []string{"q5"}},
		{name: "torn line", content: header + "q1,a,b,c,\nq2,\"unterminated\n", want: []string{"q1"}},
		{name: "unterminated last record", content: header + "q1,CCO,CCN,Z1,0.5\nq2,CCC,CC", want: []string{"q1"}},
		{name: "torn header", content: "query_id,qu"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.csv")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			got := ScanQueryIDs(path)
			assert.Len(t, got, len(tt.want))
			for _, id := range tt.want {
				assert.Contains(t, got, id)
			}
		})
	}

	assert.Empty(t, ScanQueryIDs(filepath.Join(t.TempDir(), "missing.csv")))
}

func TestAppendAfterClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "out.csv"), sink.ModeAppend)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Append(context.Background(), molsearch.Query{ID: "q1", Molecule: "C"}, nil)
	assert.Error(t, err)
}

func TestOpenCutsTornTail(t *testing.T) {
	tests := []struct {
		name    string
		mode    sink.Mode
		content string
		want    string
	}{
		{
			name:    "resume",
			mode:    sink.ModeResume,
			content: header + "q1,CCO,CCN,Z1,0.5\nq2,CCC,CC",
			want:    header + "q1,CCO,CCN,Z1,0.5\nq3,O,OO,Z3,\n",
		},
		{
			name:    "append",
			mode:    sink.ModeAppend,
			content: header + "q1,CCO,CCN,Z1,0.5\nq2,\"C\nC",
			want:    header + "q1,CCO,CCN,Z1,0.5\nq3,O,OO,Z3,\n",
		},
		{
			name:    "torn header",
			mode:    sink.ModeResume,
			content: "query_id,query_smi",
			want:    header + "q3,O,OO,Z3,\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.csv")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			s, err := Open(path, tt.mode)
			require.NoError(t, err)
			assert.False(t, s.IsProcessed("q2"), "a torn record is not a recorded query")

			require.NoError(t, s.Append(context.Background(), molsearch.Query{ID: "q3", Molecule: "O"}, []molsearch.Hit{{Molecule: "OO", ID: "Z3"}}))
			require.NoError(t, s.Close())
			assert.Equal(t, tt.want, readFile(t, path))
		})
	}
}

func TestAppendLargeQueryIsOneRecordSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := Open(path, sink.ModeAppend)
	require.NoError(t, err)

	hits := make([]molsearch.Hit, 10000)
	for i := range hits {
		hits[i] = molsearch.Hit{Molecule: "CCCCCCCCCCCCCCCCCCCC", ID: "ZINC0000000000"}
	}
	require.NoError(t, s.Append(context.Background(), molsearch.Query{ID: "big", Molecule: "C"}, hits))
	require.NoError(t, s.Close())

	content := readFile(t, path)
	assert.Equal(t, 10001, strings.Count(content, "\n"))
	assert.True(t, strings.HasSuffix(content, "big,C,CCCCCCCCCCCCCCCCCCCC,ZINC0000000000,\n"))
}
