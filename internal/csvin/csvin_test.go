package csvin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letmevibethatforyou/molsearch"
)

func TestRead(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		smilesCol string
		idCol     string
		want      []molsearch.Query
	}{
		{
			name:      "row numbers as ids",
			input:     "smiles\nCCO\nc1ccccc1\n",
			smilesCol: "smiles",
			want:      []molsearch.Query{{ID: "1", Molecule: "CCO"}, {ID: "2", Molecule: "c1ccccc1"}},
		},
		{
			name:      "id column",
			input:     "name,smiles\naspirin,CC(=O)Oc1ccccc1C(=O)O\nethanol, CCO \n",
			smilesCol: "smiles",
			idCol:     "name",
			want: []molsearch.Query{
				{ID: "aspirin", Molecule: "CC(=O)Oc1ccccc1C(=O)O"},
				{ID: "ethanol", Molecule: "CCO"},
			},
		},
		{
			name:      "bom and empty cells",
			input:     "\xEF\xBB\xBFid,smiles\na,CCO\nb,\n,CCN\nd\n",
			smilesCol: "smiles",
			idCol:     "id",
			want:      []molsearch.Query{{ID: "a", Molecule: "CCO"}, {ID: "3", Molecule: "CCN"}},
		},
		{
			name:      "header only",
			input:     "smiles\n",
			smilesCol: "smiles",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(strings.NewReader(tt.input), tt.smilesCol, tt.idCol)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		smilesCol string
		idCol     string
		wantMsg   string
	}{
		{name: "empty input", input: "", smilesCol: "smiles", wantMsg: "no header"},
		{name: "missing smiles column", input: "mol\nCCO\n", smilesCol: "smiles", wantMsg: `column "smiles" not found`},
		{name: "missing id column", input: "smiles\nCCO\n", smilesCol: "smiles", idCol: "name", wantMsg: `id column "name" not found`},
		{name: "malformed row", input: "smiles\n\"CCO\n", smilesCol: "smiles", wantMsg: "row 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input), tt.smilesCol, tt.idCol)
			require.Error(t, err)
			assert.True(t, errors.Is(err, molsearch.ErrConfig))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.csv")
	require.NoError(t, os.WriteFile(path, []byte("smiles\nCCO\n"), 0o644))

	qs, err := ReadFile(path, "smiles", "")
	require.NoError(t, err)
	assert.Equal(t, []molsearch.Query{{ID: "1", Molecule: "CCO"}}, qs)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"), "smiles", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, molsearch.ErrConfig))
}
