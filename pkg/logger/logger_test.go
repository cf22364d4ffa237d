package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSplitLevelWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	l := zerolog.New(splitLevelWriter{infoWriter: &out, errWriter: &errOut})

	l.Info().Msg("hello")
	l.Warn().Msg("careful")
	l.Error().Msg("boom")

	assert.Contains(t, out.String(), "hello")
	assert.NotContains(t, out.String(), "careful")
	assert.Contains(t, errOut.String(), "careful")
	assert.Contains(t, errOut.String(), "boom")
}
