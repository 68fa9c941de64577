package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("What did I write about Hiking, hiking and the MOUNTAINS?")
	assert.Equal(t, []string{"hiking", "mountains"}, got)
}

func TestExtractKeywords_ShortAndEmpty(t *testing.T) {
	assert.Empty(t, ExtractKeywords(""))
	assert.Empty(t, ExtractKeywords("I am so ok"))
}

func TestKeywordScore(t *testing.T) {
	kws := []string{"coffee", "rain", "bicycle"}
	assert.InDelta(t, 2.0/3.0, KeywordScore(kws, "Rain all day, so much COFFEE."), 1e-9)
	assert.Equal(t, 0.0, KeywordScore(nil, "anything"))
	assert.Equal(t, 0.0, KeywordScore(kws, ""))
}
