package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLogger_LevelsAndPrefix(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewWriterLogger("bake", false, &out, &errOut)

	l.Debugf("hidden %d", 1)
	assert.Empty(t, out.String(), "debug output should be suppressed when debug is off")

	l.SetDebug(true)
	assert.True(t, l.DebugEnabled())
	l.Debugf("shown %d", 2)
	l.Infof("counts %d/%d", 2, 2)
	l.Warnf("overflow")
	l.Errorf("context lost")

	assert.Contains(t, out.String(), "[bake] DEBUG: shown 2")
	assert.Contains(t, out.String(), "[bake] INFO: counts 2/2")
	assert.Contains(t, errOut.String(), "[bake] WARN: overflow")
	assert.Contains(t, errOut.String(), "[bake] ERROR: context lost")
}

func TestDefaultLogger_NoPrefix(t *testing.T) {
	var out bytes.Buffer
	l := NewWriterLogger("", false, &out, &out)
	l.Infof("plain")
	assert.Contains(t, out.String(), "INFO: plain")
	assert.NotContains(t, out.String(), "[]")
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	if l == nil {
		t.Fatal("OrNop must never return nil")
	}
	assert.False(t, l.DebugEnabled())

	d := NewDefaultLogger("x", true)
	assert.Same(t, d, OrNop(d))
}
