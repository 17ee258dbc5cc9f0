package gatewayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestCallSendsRequest(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, gateway.Path, r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req gateway.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, gateway.ActionAuthenticate, req.Action)
		require.Equal(t, "data:image/jpeg;base64,AAAA", req.Photo)

		writeJSON(w, http.StatusOK, gateway.Response{
			Success: true,
			Match:   &gateway.Match{FaceID: "face-1", Similarity: 97.5},
			Token:   "tok",
		})
	})

	resp, err := New(srv.URL+"/").Call(context.Background(), gateway.Request{
		Action: gateway.ActionAuthenticate,
		Photo:  "data:image/jpeg;base64,AAAA",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "face-1", resp.Match.FaceID)
	require.Equal(t, "tok", resp.Token)
}

func TestCallMapsServerFailure(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "No matching face found.",
			"kind":  string(failure.NoMatchFound),
		})
	})

	_, err := New(srv.URL).Call(context.Background(), gateway.Request{Action: gateway.ActionAuthenticate})
	fe := failure.Normalize(err)
	require.Equal(t, failure.NoMatchFound, fe.Kind)
	require.Equal(t, "No matching face found.", fe.Message)
}

func TestCallMapsInvalidAction(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action"})
	})

	_, err := New(srv.URL).Call(context.Background(), gateway.Request{Action: "delete"})
	fe := failure.Normalize(err)
	require.Equal(t, failure.InvalidRequest, fe.Kind)
	require.Equal(t, "Invalid action", fe.Message)
}

func TestCallTreatsUnsuccessfulBodyAsFailure(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gateway.Response{Success: false, Error: "Authentication failed"})
	})

	_, err := New(srv.URL).Call(context.Background(), gateway.Request{Action: gateway.ActionAuthenticate})
	require.EqualError(t, err, "Authentication failed")
}

func TestCallRetriesUnavailableGateway(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, gateway.Response{Success: true})
	})

	resp, err := New(srv.URL, WithRetries(3, time.Millisecond)).Call(context.Background(), gateway.Request{Action: gateway.ActionValidate})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, int32(3), calls.Load())
}

func TestCallDoesNotRetryServerFailure(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Invalid photo"})
	})

	_, err := New(srv.URL, WithRetries(3, time.Millisecond)).Call(context.Background(), gateway.Request{Action: gateway.ActionValidate})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestCallTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, WithRetries(1, time.Millisecond)).Call(context.Background(), gateway.Request{Action: gateway.ActionValidate})
	require.Equal(t, failure.TransportFailure, failure.KindOf(err))
}
