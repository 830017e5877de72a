package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Prompt, "Silk Road")
		assert.NotEmpty(t, req.NegativePrompt)
		assert.Equal(t, 1024, req.Width)

		_, _ = w.Write([]byte(`{"image_url":"https://img.example.org/out.png","seed":42}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	resp, err := c.Generate(context.Background(), BuildRequest("Silk Road", "trade history", "documentary"))
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.org/out.png", resp.ImageURL)
	assert.Equal(t, int64(42), resp.Seed)
}

func TestGenerate_MissingImageURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing image_url")
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestPresetFor_Fallback(t *testing.T) {
	assert.Equal(t, "documentary", PresetFor("documentary").Name)
	assert.Equal(t, defaultStyleKey, PresetFor("no-such-style").Name)
	assert.Equal(t, "cinematic", PresetFor("CINEMATIC").Name)
}

func TestBuildRequest(t *testing.T) {
	req := BuildRequest("A Title", "", "photoreal")
	assert.Contains(t, req.Prompt, "A Title")
	assert.Contains(t, req.Prompt, "photorealistic")
	assert.Contains(t, req.NegativePrompt, "watermark")
	assert.Equal(t, 35, req.Steps)
	assert.True(t, req.HiresFix)
}
