package scanner

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArxivMind/internal/domain"
)

type stubScanner struct{ name string }

func (s stubScanner) Name() string { return s.name }

func (s stubScanner) Scan(context.Context, Request) iter.Seq2[domain.Candidate, error] {
	return func(func(domain.Candidate, error) bool) {}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubScanner{name: "arxiv-api"})
	reg.Register(stubScanner{name: "arxiv-listing"})

	sc, err := reg.Resolve("arxiv-api")
	require.NoError(t, err)
	assert.Equal(t, "arxiv-api", sc.Name())
	assert.Equal(t, []string{"arxiv-api", "arxiv-listing"}, reg.Names())

	_, err = reg.Resolve("ieee")
	require.ErrorIs(t, err, ErrUnknownScanner)
	assert.Contains(t, err.Error(), "arxiv-listing")
}

func TestRegistryZeroValue(t *testing.T) {
	t.Parallel()

	var reg Registry
	reg.Register(stubScanner{name: "arxiv-api"})

	_, err := reg.Resolve("arxiv-api")
	require.NoError(t, err)
}
