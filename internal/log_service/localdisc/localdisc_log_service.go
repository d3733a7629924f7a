package localdisc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/log_service/console"
)

// LocalDiscLogService appends one line per event to <dir>/<nodeID>.log.
type LocalDiscLogService struct {
	*console.ConsoleLogService
	path string
	file *os.File
}

func NewLocalDiscLogService(logDir string, nodeID string, minLogLevel string) (*LocalDiscLogService, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, nodeID+".log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &LocalDiscLogService{
		ConsoleLogService: console.NewConsoleLogService(file, nodeID, minLogLevel),
		path:              path,
		file:              file,
	}, nil
}

func (ls *LocalDiscLogService) Path() string { return ls.path }

// Close syncs and closes the log file. Events logged afterwards are dropped.
func (ls *LocalDiscLogService) Close() error {
	if err := ls.file.Sync(); err != nil {
		ls.file.Close()
		return err
	}
	return ls.file.Close()
}

var _ log_service.LogService = (*LocalDiscLogService)(nil)
