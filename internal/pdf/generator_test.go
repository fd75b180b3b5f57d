package pdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintOptionsUseA4(t *testing.T) {
	opts := printOptions()

	require.NotNil(t, opts.PaperWidth)
	require.NotNil(t, opts.PaperHeight)
	assert.InDelta(t, 8.27, *opts.PaperWidth, 0.001)
	assert.InDelta(t, 11.69, *opts.PaperHeight, 0.001)
	assert.Greater(t, *opts.MarginBottom, *opts.MarginTop)
	assert.True(t, opts.DisplayHeaderFooter)
	assert.Contains(t, opts.FooterTemplate, "pageNumber")
}

func TestNewRendererDefaultsTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, NewRenderer(0).timeout)
	assert.Equal(t, time.Minute, NewRenderer(time.Minute).timeout)
}
