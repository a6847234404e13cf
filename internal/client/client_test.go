// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/medgemma-tui/internal/model"
)

func TestOpenStream_PostsJSON(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {}\n\n")
	}))
	defer srv.Close()

	c := New(Config{})
	body, err := c.OpenStream(context.Background(), srv.URL, map[string]bool{"stream": true})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {}\n\n", string(data))
	assert.Equal(t, true, got["stream"])
}

func TestOpenStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{}).OpenStream(context.Background(), srv.URL, struct{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTP))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestOpenStream_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{ConnectTimeout: time.Second}).OpenStream(context.Background(), url, struct{}{})
	require.Error(t, err)
	assert.True(t, IsNetwork(err), "got %v", err)
}

func TestOpenStream_Canceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{}).OpenStream(ctx, srv.URL, struct{}{})
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestComplete_SlowHeadersAreNotCutOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"choices":[{"message":{"content":"[]"}}]}`)
	}))
	defer srv.Close()

	got, err := New(Config{ConnectTimeout: 50 * time.Millisecond}).Complete(context.Background(), srv.URL, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestOpenStream_CallerDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).OpenStream(ctx, srv.URL, struct{}{})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestOpenStream_SlowBodyIsNotCutOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for i := 0; i < 3; i++ {
			time.Sleep(60 * time.Millisecond)
			io.WriteString(w, "x")
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	body, err := New(Config{ConnectTimeout: 50 * time.Millisecond}).OpenStream(context.Background(), srv.URL, struct{}{})
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "xxx", string(data))
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"[]"}}]}`)
	}))
	defer srv.Close()

	got, err := New(Config{}).Complete(context.Background(), srv.URL, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestComplete_MissingContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := New(Config{}).Complete(context.Background(), srv.URL, struct{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDetectNative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"status": "success",
			"thought": "checked both lungs",
			"findings": [
				{"label": "结节", "box_2d": [30.06, 10, 40, 20.5], "description": "右上肺"},
				{"label": "bad", "box_2d": [50, 50, 40, 60], "description": "inverted"}
			]
		}`)
	}))
	defer srv.Close()

	findings, thought, err := New(Config{}).DetectNative(context.Background(), srv.URL, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "checked both lungs", thought)
	require.Len(t, findings, 1)
	assert.Equal(t, model.Finding{Label: "结节", Box: model.Box{301, 100, 400, 205}, Description: "右上肺"}, findings[0])
}

func TestDetectNative_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"error","findings":{"raw":"no json in output"}}`)
	}))
	defer srv.Close()

	_, _, err := New(Config{}).DetectNative(context.Background(), srv.URL, struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no json in output")
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "no json in output", ce.Raw)
}

func TestDetectNative_FindingsNotAList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success","findings":{"error":"parse","raw":"nothing"}}`)
	}))
	defer srv.Close()

	_, _, err := New(Config{}).DetectNative(context.Background(), srv.URL, struct{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, `{"error":"parse","raw":"nothing"}`, ce.Raw)
}

func TestDetectNative_LooseLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success","findings":[{"label":3,"box_2d":[10,10,20,20],"description":null}]}`)
	}))
	defer srv.Close()

	findings, _, err := New(Config{}).DetectNative(context.Background(), srv.URL, struct{}{})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.Finding{Label: "3", Box: model.Box{100, 100, 200, 200}}, findings[0])
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		io.WriteString(w, `{"status":"ok","model_loaded":true}`)
	}))
	defer srv.Close()

	st, err := New(Config{}).Status(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, &Status{Status: "ok", ModelLoaded: true}, st)
}

func TestClassify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, IsCanceled(Classify(ctx, io.ErrUnexpectedEOF)))
	assert.True(t, IsNetwork(Classify(context.Background(), io.ErrUnexpectedEOF)))
	assert.Nil(t, Classify(context.Background(), nil))

	orig := &Error{Type: ErrTypeHTTP, Message: "x"}
	assert.Same(t, orig, Classify(context.Background(), orig))
}
