package gcsuploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://statements/2024/04/giro.csv")
	require.NoError(t, err)
	assert.Equal(t, "statements", bucket)
	assert.Equal(t, "2024/04/giro.csv", object)

	for _, uri := range []string{"statements/giro.csv", "gs://statements", "gs://statements/", "gs:///giro.csv"} {
		_, _, err := ParseGCSURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"gs://statements/2024/04/giro.csv", "giro.csv"},
		{"gs://statements/giro.pdf", "giro.pdf"},
		{"gs://statements", "statements"},
	}
	c := NewClient()
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.ExtractFilenameFromGCSURI(tt.uri), tt.uri)
	}
}

func TestClient_CloseWithoutUse(t *testing.T) {
	c := NewClient()
	assert.NoError(t, c.Close())
}

func TestClient_FetchRejectsBadURI(t *testing.T) {
	_, err := NewClient().FetchFromGCS(t.Context(), "https://example.com/giro.csv")
	assert.ErrorContains(t, err, "invalid GCS URI")
}
