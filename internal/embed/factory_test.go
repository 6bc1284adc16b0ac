package embed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderOllama, ParseProvider("ollama"))
	assert.Equal(t, ProviderOllama, ParseProvider(" Ollama "))
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderAuto, ParseProvider(""))
	assert.Equal(t, ProviderAuto, ParseProvider("mystery"))
}

func TestNewEmbedder_Static(t *testing.T) {
	e, err := NewEmbedder(t.Context(), FactoryConfig{Provider: "static"})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "static", e.ModelName())
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewEmbedder_StaticWithCache(t *testing.T) {
	e, err := NewEmbedder(t.Context(), FactoryConfig{Provider: "static", CacheSize: 100})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.Equal(t, "static", cached.ModelName())

	info := GetInfo(t.Context(), e)
	assert.Equal(t, ProviderStatic, info.Provider)
}

func TestNewEmbedder_AutoFallsBackToStatic(t *testing.T) {
	// Nothing listens on this port; auto-detection must fall back.
	e, err := NewEmbedder(t.Context(), FactoryConfig{
		Host:    "http://127.0.0.1:1",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "static", e.ModelName())
}

func TestNewEmbedder_ExplicitOllamaFailsWithoutServer(t *testing.T) {
	_, err := NewEmbedder(t.Context(), FactoryConfig{
		Provider: "ollama",
		Host:     "http://127.0.0.1:1",
		Timeout:  100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama unavailable")
}
