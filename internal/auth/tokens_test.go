package auth

import (
	"net/http"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer", "Bearer T2", "T2"},
		{"lowercase scheme", "bearer T2", "T2"},
		{"extra whitespace", "  Bearer   T2  ", "T2"},
		{"basic scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer", ""},
		{"missing", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, ExtractBearer(h))
		})
	}
}

func TestTokenFromJSON(t *testing.T) {
	nested := dedent.Dedent(`
		{
			"success": true,
			"data": {
				"accessToken": "new1",
				"user": {"id": "u1"}
			}
		}
	`)
	assert.Equal(t, "new1", TokenFromJSON([]byte(nested)))

	topLevel := `{"accessToken": "top"}`
	assert.Equal(t, "top", TokenFromJSON([]byte(topLevel)))

	assert.Equal(t, "", TokenFromJSON([]byte(`{"success": true, "data": null}`)))
	assert.Equal(t, "", TokenFromJSON([]byte(`<html>bad gateway</html>`)))
	assert.Equal(t, "", TokenFromJSON(nil))
}

func TestTokenExpiry_Opaque(t *testing.T) {
	_, ok := TokenExpiry("abc123")
	assert.False(t, ok)
}
