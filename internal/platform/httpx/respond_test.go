package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("order 7: %w", ErrNotFound), http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, "error: %v", tc.err)
		require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	}
}

func TestDecodeJSONBoundsBodySize(t *testing.T) {
	var target struct {
		Note string `json:"note"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"ok"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "ok", target.Note)

	oversized := fmt.Sprintf(`{"note":%q}`, strings.Repeat("x", maxBodyBytes+1))
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(oversized))
	require.Error(t, DecodeJSON(req, &target))
}
