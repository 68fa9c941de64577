package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdown_FrontMatterRoundTrip(t *testing.T) {
	e := &Entry{
		ID:        "20250510090000000000",
		Title:     "Garden",
		Content:   "Planted tomatoes.\n\nThe soil was dry.",
		Tags:      []string{"garden", "spring"},
		Folder:    "home",
		Favorite:  true,
		CreatedAt: time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 5, 11, 8, 30, 0, 0, time.UTC),
	}
	data, err := MarshalMarkdown(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), "title: Garden")

	got, err := UnmarshalMarkdown(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Title, got.Title)
	assert.Equal(t, e.Content, got.Content)
	assert.Equal(t, e.Tags, got.Tags)
	assert.Equal(t, e.Folder, got.Folder)
	assert.True(t, got.Favorite)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, e.UpdatedAt.Equal(got.UpdatedAt))
}

func TestMarkdown_NoFrontMatter(t *testing.T) {
	got, err := UnmarshalMarkdown([]byte("# Trip notes\n\nTrain to Lyon.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Trip notes", got.Title)
	assert.Equal(t, "Train to Lyon.", got.Content)

	plain, err := UnmarshalMarkdown([]byte("just text"))
	require.NoError(t, err)
	assert.Empty(t, plain.Title)
	assert.Equal(t, "just text", plain.Content)
}

func TestMarkdown_Unterminated(t *testing.T) {
	_, err := UnmarshalMarkdown([]byte("---\ntitle: x\nno end"))
	assert.Error(t, err)
}

func TestReadEntryFile_IDFromName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20240101120000000000.md")
	require.NoError(t, os.WriteFile(path, []byte("# New year\n\nFresh start."), 0o644))

	e, err := ReadEntryFile(path)
	require.NoError(t, err)
	assert.Equal(t, "20240101120000000000", e.ID)
	assert.Equal(t, path, e.FilePath)
	assert.Equal(t, "New year", e.Title)
}
