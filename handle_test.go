package molsearch

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobHandle(t *testing.T) {
	tests := []struct {
		name string
		body string
		want JobHandle
	}{
		{name: "bare json string", body: `"job-123"`, want: "job-123"},
		{name: "plain text body", body: "  job-456\n", want: "job-456"},
		{name: "job_name key", body: `{"job_name": "a", "job_id": "b"}`, want: "a"},
		{name: "job_id key", body: `{"status": "queued", "job_id": "b"}`, want: "b"},
		{name: "key priority beats document order", body: `{"result": "r", "id": "i"}`, want: "i"},
		{name: "result key", body: `{"result": "r", "count": 1}`, want: "r"},
		{name: "empty known key is skipped", body: `{"job_name": "", "job": "j"}`, want: "j"},
		{name: "first string value in document order", body: `{"n": 1, "zeta": "z", "alpha": "a"}`, want: "z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJobHandle([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJobHandleUnexpectedShape(t *testing.T) {
	for _, body := range []string{``, `   `, `""`, `42`, `[]`, `{"n": 1, "ok": true}`} {
		t.Run(body, func(t *testing.T) {
			_, err := ParseJobHandle([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnexpectedShape))

			var shapeErr *ShapeError
			require.True(t, errors.As(err, &shapeErr))
			assert.Equal(t, body, string(shapeErr.Raw))
		})
	}
}
