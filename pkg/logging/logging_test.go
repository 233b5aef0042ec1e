package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorRecordsMessages(t *testing.T) {
	var c Collector
	sink := c.Sink()

	sink.Warn("path contains '..': %s", "a/../b")
	sink.Info("installed %s", "left-pad")

	assert.Equal(t, []string{"path contains '..': a/../b"}, c.Warnings)
	assert.Equal(t, []string{"installed left-pad"}, c.Infos)
}

func TestDiscardDropsMessages(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Warn("whatever %d", 1)
		Discard.Info("whatever %d", 1)
	})
}
