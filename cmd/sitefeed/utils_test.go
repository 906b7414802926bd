package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "Приве...", truncate("Привет, мир", 8))
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"nytimes", "gq"}, splitNames(" nytimes, ,gq,"))
	assert.Empty(t, splitNames(""))
}
