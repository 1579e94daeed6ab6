package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHttpCodeForError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{ErrBadRequest, http.StatusBadRequest},
		{fmt.Errorf("%w: limit", ErrBadRequest), http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrStorageError{errors.New("connection reset")}, http.StatusInternalServerError},
		{fmt.Errorf("listing: %w", ErrChainError{errors.New("dial tcp")}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		require.Equal(t, tc.code, HttpCodeForError(tc.err), tc.err.Error())
	}
}

func TestReplyWithError(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, ReplyWithError(w, ErrNotFound))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "application/json; charset=utf-8", w.Header().Get("content-type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "item not found", body.Msg)
}

func TestStorageErrorNil(t *testing.T) {
	require.Contains(t, ErrStorageError{}.Error(), "internal bug")
	require.Contains(t, ErrChainError{}.Error(), "internal bug")
}
