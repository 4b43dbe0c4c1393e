package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Classmind/internal/core"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{core.ErrUnsupportedType, http.StatusUnsupportedMediaType},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrQuotaExceeded, http.StatusPaymentRequired},
		{core.ErrEmptyCorpus, http.StatusConflict},
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, fmt.Errorf("context: %w", tc.err))
		assert.Equal(t, tc.want, rec.Code, "error: %v", tc.err)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}
