package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	c := NewRecursive(512, 50)
	assert.Equal(t, []string{"Revenue grew 12% year over year"}, c.Split("  Revenue grew 12% year over year \n"))
	assert.Nil(t, c.Split(" \n\n\t "))
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	text := "Apple reported record revenue in the quarter.\n\n" +
		"Services margin expanded by two full points.\n\n" +
		"The board approved a larger share buyback."
	c := NewRecursive(60, 0)

	assert.Equal(t, []string{
		"Apple reported record revenue in the quarter.",
		"Services margin expanded by two full points.",
		"The board approved a larger share buyback.",
	}, c.Split(text))
}

func TestSplit_FallsBackToSentences(t *testing.T) {
	c := NewRecursive(20, 0)
	assert.Equal(t, []string{
		"One two three.",
		"Four five six.",
		"Seven eight nine.",
	}, c.Split("One two three. Four five six. Seven eight nine."))
}

func TestSplit_WordOverlap(t *testing.T) {
	c := NewRecursive(8, 3)
	assert.Equal(t, []string{"aa bb", "bb cc", "cc dd ee"}, c.Split("aa bb cc dd ee"))
}

func TestSplit_HardCut(t *testing.T) {
	c := NewRecursive(4, 1)
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, c.Split("abcdefghij"))
}

func TestSplit_CountsRunes(t *testing.T) {
	c := NewRecursive(2, 0)
	assert.Equal(t, []string{"éé", "éé", "é"}, c.Split("ééééé"))
}

func TestSplit_WindowsNeverExceedSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("Net sales rose in every segment while operating costs stayed flat. ")
		if i%7 == 0 {
			b.WriteString("\n\n")
		}
	}
	c := NewRecursive(512, 50)
	chunks := c.Split(b.String())

	assert.Greater(t, len(chunks), 10)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 512)
		assert.NotEmpty(t, strings.TrimSpace(ch))
	}
}

func TestNewRecursive_ClampsArguments(t *testing.T) {
	c := NewRecursive(0, -5)
	assert.Equal(t, 512, c.size)
	assert.Equal(t, 0, c.overlap)

	c = NewRecursive(10, 10)
	assert.Equal(t, 9, c.overlap)
}
