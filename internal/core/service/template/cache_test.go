package template

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(1024)

	_, ok := c.Get("cv-1")
	assert.False(t, ok)

	c.Put("cv-1", []byte("alpha"))
	data, ok := c.Get("cv-1")
	require.True(t, ok)
	assert.Equal(t, []byte("alpha"), data)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 5, stats.SizeBytes)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestCacheKeysAreImmutable(t *testing.T) {
	c := NewCache(1024)
	c.Put("cv-1", []byte("first"))
	c.Put("cv-1", []byte("second write ignored"))

	data, ok := c.Get("cv-1")
	require.True(t, ok)
	assert.Equal(t, []byte("first"), data)
	assert.EqualValues(t, 5, c.Stats().SizeBytes)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(30)
	c.Put("cv-1", []byte(strings.Repeat("a", 10)))
	c.Put("cv-2", []byte(strings.Repeat("b", 10)))
	c.Put("cv-3", []byte(strings.Repeat("c", 10)))

	// Touch cv-1 so cv-2 becomes the eviction candidate.
	_, ok := c.Get("cv-1")
	require.True(t, ok)

	c.Put("cv-4", []byte(strings.Repeat("d", 10)))

	_, ok = c.Get("cv-2")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get("cv-1")
	assert.True(t, ok)
	_, ok = c.Get("cv-3")
	assert.True(t, ok)
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCacheAdmitsOversizedEntryAlone(t *testing.T) {
	c := NewCache(10)
	c.Put("cv-small", []byte("1234"))
	c.Put("cv-big", []byte(strings.Repeat("x", 64)))

	_, ok := c.Get("cv-big")
	assert.True(t, ok)
	_, ok = c.Get("cv-small")
	assert.False(t, ok, "everything else is evicted to admit the oversized entry")
	assert.Equal(t, 1, c.Stats().EntryCount)
}

type fakeRepo struct {
	port.TemplateRepository
	downloads int
	data      map[string][]byte
}

func (f *fakeRepo) DownloadTemplateBinary(_ context.Context, id string) ([]byte, error) {
	f.downloads++
	data, ok := f.data[id]
	if !ok {
		return nil, entity.NewError(entity.KindTemplateNotFound, "content version %s not found", id)
	}
	return data, nil
}

func TestLoaderFillsCacheOnMiss(t *testing.T) {
	repo := &fakeRepo{data: map[string][]byte{"cv-1": []byte("binary")}}
	loader := NewLoader(NewCache(1024), repo)

	data, err := loader.Load(context.Background(), "cv-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("binary"), data)
	assert.Equal(t, 1, repo.downloads)

	_, err = loader.Load(context.Background(), "cv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.downloads, "second load is served from cache")
}

func TestLoaderPropagatesDownloadErrors(t *testing.T) {
	repo := &fakeRepo{data: map[string][]byte{}}
	loader := NewLoader(NewCache(1024), repo)

	_, err := loader.Load(context.Background(), "cv-missing")
	require.Error(t, err)
	assert.Equal(t, entity.KindTemplateNotFound, entity.KindOf(err))
}
