package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBadRequest is returned when the provided HTTP request
	// is malformed.
	ErrBadRequest = errors.New("invalid request parameters")
	// ErrNotFound is returned when handling a request for an item that
	// does not exist.
	ErrNotFound = errors.New("item not found")
)

// ErrStorageError is returned when the round store fails.
type ErrStorageError struct{ Err error }

func (e ErrStorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage error: %s", e.Err.Error())
	}
	// ErrStorageError shouldn't be constructed with a nil Err, but format it just in case.
	return "storage error: internal bug, incorrectly instantiated error object with nil"
}

func (e ErrStorageError) Unwrap() error { return e.Err }

// ErrChainError is returned when reading from the network fails.
type ErrChainError struct{ Err error }

func (e ErrChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain error: %s", e.Err.Error())
	}
	return "chain error: internal bug, incorrectly instantiated error object with nil"
}

func (e ErrChainError) Unwrap() error { return e.Err }

// ErrorResponse is a JSON error.
type ErrorResponse struct {
	Msg string `json:"msg"`
}

func HttpCodeForError(err error) int {
	var (
		storageErr ErrStorageError
		chainErr   ErrChainError
	)
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError
	case errors.As(err, &chainErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ReplyWithError renders err as human-readable JSON to the HTTP response
// stream w.
func ReplyWithError(w http.ResponseWriter, err error) error {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("x-content-type-options", "nosniff")
	w.WriteHeader(HttpCodeForError(err))

	return json.NewEncoder(w).Encode(ErrorResponse{Msg: err.Error()})
}
