package localdisc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AnishMulay/numbfs/internal/log_service"
)

func TestLocalDiscLogService_LevelFilter(t *testing.T) {
	dir := t.TempDir()

	ls, err := NewLocalDiscLogService(dir, "node-1", log_service.WarnLevel)
	if err != nil {
		t.Fatalf("NewLocalDiscLogService() error = %v", err)
	}

	ls.Debug(log_service.LogEvent{Message: "hidden debug"})
	ls.Info(log_service.LogEvent{Message: "hidden info"})
	ls.Warn(log_service.LogEvent{Message: "freeing clear bit", Metadata: map[string]any{"pool": "block", "index": 7}})
	ls.Error(log_service.LogEvent{Message: "bad magic"})

	if err := ls.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "node-1.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)

	if strings.Contains(out, "hidden") {
		t.Errorf("log contains filtered events:\n%s", out)
	}
	if !strings.Contains(out, "[node-1] WARN: freeing clear bit index=7 pool=block") {
		t.Errorf("log missing warn line:\n%s", out)
	}
	if !strings.Contains(out, "ERROR: bad magic") {
		t.Errorf("log missing error line:\n%s", out)
	}
}

func TestGetLevelValue(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"debug", log_service.DebugLevelValue},
		{" INFO ", log_service.InfoLevelValue},
		{"warn", log_service.WarnLevelValue},
		{"ERROR", log_service.ErrorLevelValue},
		{"verbose", log_service.DebugLevelValue},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := log_service.GetLevelValue(tt.level); got != tt.want {
				t.Errorf("GetLevelValue(%q) = %d, want %d", tt.level, got, tt.want)
			}
		})
	}
}
