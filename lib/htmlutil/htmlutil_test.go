package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestGetText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<div><p>Pasta <b>Dental</b></p> <span>Natural</span></div>`))
	require.NoError(t, err)
	require.Equal(t, "Pasta Dental Natural", CleanText(GetText(doc)))
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b c", CleanText("  a \n\t b   c  "))
	require.Equal(t, "sí", CleanText("sí\x00"))
	require.Equal(t, "", CleanText(" \n "))
}
