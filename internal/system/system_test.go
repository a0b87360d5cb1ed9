package system

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestLogResources(t *testing.T) {
	var buf bytes.Buffer
	LogResources(log.New(&buf, "", 0))

	out := buf.String()
	if !strings.Contains(out, "CPU") || !strings.Contains(out, "memory") {
		t.Errorf("Expected CPU and memory lines, got %q", out)
	}
}
