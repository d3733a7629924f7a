package console

import (
	"io"
	"log"
	"sync"

	"github.com/AnishMulay/numbfs/internal/log_service"
)

// ConsoleLogService writes formatted lines to any writer.
type ConsoleLogService struct {
	nodeID   string
	mu       sync.Mutex
	logger   *log.Logger
	minLevel int
}

func NewConsoleLogService(w io.Writer, nodeID string, minLogLevel string) *ConsoleLogService {
	return &ConsoleLogService{
		nodeID:   nodeID,
		logger:   log.New(w, "", 0),
		minLevel: log_service.GetLevelValue(minLogLevel),
	}
}

// Discard is a logger for tests and quiet tools.
func Discard() *ConsoleLogService {
	return NewConsoleLogService(io.Discard, "discard", log_service.ErrorLevel)
}

func (ls *ConsoleLogService) log(level string, event log_service.LogEvent) {
	if log_service.GetLevelValue(level) < ls.minLevel {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	event.NodeID = ls.nodeID
	ls.logger.Println(log_service.Format(level, event))
}

func (ls *ConsoleLogService) Debug(event log_service.LogEvent) {
	ls.log(log_service.DebugLevel, event)
}

func (ls *ConsoleLogService) Info(event log_service.LogEvent) {
	ls.log(log_service.InfoLevel, event)
}

func (ls *ConsoleLogService) Warn(event log_service.LogEvent) {
	ls.log(log_service.WarnLevel, event)
}

func (ls *ConsoleLogService) Error(event log_service.LogEvent) {
	ls.log(log_service.ErrorLevel, event)
}

var _ log_service.LogService = (*ConsoleLogService)(nil)
