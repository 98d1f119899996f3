package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Song is one row of the loaded catalog. Answers are stored verbatim;
// normalization happens at comparison time so the reveal page always
// shows the original spelling.
type Song struct {
	ID        int      `json:"id"`
	Answers   []string `json:"answers"`
	MediaURL  string   `json:"youtube_url"`
	Artist    string   `json:"artist"`
	Genre     string   `json:"genre"`
	Hint      string   `json:"hint"`
	StartTime int      `json:"start_time"`
}

// Accepted header spellings per column. First match wins.
var catalogColumns = map[string][]string{
	"answers":    {"title", "answers"},
	"media":      {"youtube_url", "mediaRef"},
	"artist":     {"artist"},
	"genre":      {"genre"},
	"hint":       {"hint"},
	"start_time": {"start_time"},
}

// unescapeString resolves backslash escapes: a backslash makes the
// following character literal. A lone trailing backslash is kept as-is.
func unescapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		b.WriteRune('\\')
	}

	return b.String()
}

// splitEscapedList splits a comma-separated list in a single pass,
// honoring backslash escapes so `a\, b` stays one item. Empty items
// are dropped after trimming.
func splitEscapedList(s string) []string {
	var items []string
	var current strings.Builder

	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			if item := strings.TrimSpace(current.String()); item != "" {
				items = append(items, item)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	if item := strings.TrimSpace(current.String()); item != "" {
		items = append(items, item)
	}

	return items
}

// parseAnswers handles both surface forms of the answers field: a
// bracketed comma list, or a single bare title. Either way escapes are
// resolved. A row may legitimately end up with zero answers.
func parseAnswers(field string) []string {
	if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
		return splitEscapedList(field[1 : len(field)-1])
	}

	trimmed := strings.TrimSpace(field)
	if trimmed == "" {
		return nil
	}
	return []string{unescapeString(trimmed)}
}

func parseStartTime(field string) int {
	n, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// loadCatalog reads the whole csv into a fresh slice, so the caller can
// swap it in atomically. Song IDs are positional and stable for the
// lifetime of the loaded catalog.
func loadCatalog(path string) ([]Song, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errCatalogNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", errCatalogUnreadable, path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []Song{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", errCatalogUnreadable, path, err)
	}

	index := make(map[string]int, len(catalogColumns))
	for i, name := range header {
		name = strings.TrimSpace(name)
		for key, aliases := range catalogColumns {
			for _, alias := range aliases {
				if name == alias {
					if _, taken := index[key]; !taken {
						index[key] = i
					}
				}
			}
		}
	}

	field := func(row []string, key string) string {
		i, ok := index[key]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var songs []Song
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errCatalogUnreadable, path, err)
		}

		songs = append(songs, Song{
			ID:        len(songs),
			Answers:   parseAnswers(field(row, "answers")),
			MediaURL:  field(row, "media"),
			Artist:    field(row, "artist"),
			Genre:     field(row, "genre"),
			Hint:      field(row, "hint"),
			StartTime: parseStartTime(field(row, "start_time")),
		})
	}

	return songs, nil
}
