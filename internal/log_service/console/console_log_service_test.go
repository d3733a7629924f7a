package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/AnishMulay/numbfs/internal/log_service"
)

func TestConsoleLogService(t *testing.T) {
	var buf bytes.Buffer
	ls := NewConsoleLogService(&buf, "cli", "info")

	ls.Debug(log_service.LogEvent{Message: "Lookup Request"})
	ls.Info(log_service.LogEvent{Message: "Mounted filesystem", Metadata: map[string]any{"uuid": "u1", "blocks": 64}})

	out := buf.String()
	if strings.Contains(out, "Lookup Request") {
		t.Errorf("debug event passed an info filter:\n%s", out)
	}
	if !strings.HasSuffix(out, "[cli] INFO: Mounted filesystem blocks=64 uuid=u1\n") {
		t.Errorf("unexpected line:\n%s", out)
	}
}
