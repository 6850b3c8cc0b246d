package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSessionOK(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSessionOK(w)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Empty(t, resp.Error)
}

func TestWriteSessionError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
	}{
		{name: "missing token", status: http.StatusBadRequest, message: "missing idToken"},
		{name: "rejected token", status: http.StatusUnauthorized, message: "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteSessionError(w, tt.status, tt.message)

			assert.Equal(t, tt.status, w.Code)
			var resp SessionResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.OK)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}
