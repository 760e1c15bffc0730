package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	Accepted(w, map[string]string{"status": "pending_verification"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"status":"pending_verification"}}`, w.Body.String())
}

func TestError_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "PORTAL_NOT_FOUND", "Portal not found", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "PORTAL_NOT_FOUND", body["error"]["code"])
	assert.NotContains(t, body["error"], "details")
}

func TestCollection(t *testing.T) {
	w := httptest.NewRecorder()
	Collection(w, []int{1, 2}, PaginationMeta{Page: 1, Limit: 50, Total: 2})

	assert.JSONEq(t, `{"data":[1,2],"meta":{"page":1,"limit":50,"total":2,"has_next":false}}`, w.Body.String())
}
