package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

type frontMatter struct {
	ID        string    `yaml:"id,omitempty"`
	Title     string    `yaml:"title"`
	Tags      []string  `yaml:"tags,omitempty"`
	Folder    string    `yaml:"folder,omitempty"`
	Favorite  bool      `yaml:"favorite,omitempty"`
	CreatedAt time.Time `yaml:"created_at,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// MarshalMarkdown renders an entry as a markdown document with YAML front matter.
func MarshalMarkdown(e *Entry) ([]byte, error) {
	fm := frontMatter{
		ID:        e.ID,
		Title:     e.Title,
		Tags:      e.Tags,
		Folder:    e.Folder,
		Favorite:  e.Favorite,
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
	}
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(header)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(e.Content)
	if !strings.HasSuffix(e.Content, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// UnmarshalMarkdown parses a markdown document. Without front matter the title is
// taken from a leading "# " heading and everything is content.
func UnmarshalMarkdown(data []byte) (*Entry, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	e := &Entry{}

	if strings.HasPrefix(text, frontMatterDelim+"\n") {
		rest := text[len(frontMatterDelim)+1:]
		end := strings.Index(rest, "\n"+frontMatterDelim)
		if end < 0 {
			return nil, fmt.Errorf("unterminated front matter")
		}
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
			return nil, fmt.Errorf("failed to parse front matter: %w", err)
		}
		body := rest[end+len(frontMatterDelim)+1:]
		body = strings.TrimPrefix(body, "\n")
		body = strings.TrimPrefix(body, "\n")

		e.ID = fm.ID
		e.Title = fm.Title
		e.Tags = fm.Tags
		e.Folder = fm.Folder
		e.Favorite = fm.Favorite
		e.CreatedAt = fm.CreatedAt
		e.UpdatedAt = fm.UpdatedAt
		e.Content = strings.TrimRight(body, "\n")
		return e, nil
	}

	e.Content = strings.TrimRight(text, "\n")
	if strings.HasPrefix(e.Content, "# ") {
		line, body, _ := strings.Cut(e.Content, "\n")
		e.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		e.Content = strings.TrimLeft(body, "\n")
	}
	return e, nil
}

// EntryPath is where the markdown file of entry id lives inside dir.
func EntryPath(dir, id string) string {
	return filepath.Join(dir, id+".md")
}

// EntryIDFromPath returns the id encoded in a journal file name.
func EntryIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// writeEntryFile writes via a temp file and rename so readers never see a partial file.
func writeEntryFile(path string, e *Entry) error {
	data, err := MarshalMarkdown(e)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write entry file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move entry file into place: %w", err)
	}
	return nil
}

// ReadEntryFile parses the markdown file at path.
func ReadEntryFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry file %s: %w", path, err)
	}
	e, err := UnmarshalMarkdown(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry file %s: %w", path, err)
	}
	if e.ID == "" {
		e.ID = EntryIDFromPath(path)
	}
	e.FilePath = path
	return e, nil
}
