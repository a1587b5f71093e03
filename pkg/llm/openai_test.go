package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/llm"
	"github.com/rowforge/enrich/pkg/provider"
)

func TestOpenAIClient_Generate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  A short bio.  "}}]}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient("sk-test", "gpt-4o-mini", llm.WithBaseURL(srv.URL))
	out, err := c.Generate(context.Background(), "system", "user", 200, 0.2)
	require.NoError(t, err)

	assert.Equal(t, "A short bio.", out, "content is trimmed")
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.EqualValues(t, 200, gotBody["max_tokens"])
}

func TestOpenAIClient_UpstreamErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient("sk-test", "gpt-4o-mini", llm.WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), "s", "u", 10, 0)
	require.Error(t, err)
	assert.Equal(t, provider.ClassRateLimited, provider.Classify(err))
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient("sk-test", "gpt-4o-mini", llm.WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), "s", "u", 10, 0)
	assert.Error(t, err)
}

func TestGenerateFunc_Adapter(t *testing.T) {
	fn := llm.GenerateFunc(func(ctx context.Context, sys, user string, maxTokens int, temp float64) (string, error) {
		return sys + "|" + user, nil
	})
	out, err := fn.Generate(context.Background(), "a", "b", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "a|b", out)
}
