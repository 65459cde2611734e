package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nowa-engine/raycastvehicle/internal/cache"
	"github.com/nowa-engine/raycastvehicle/internal/model"
	"github.com/nowa-engine/raycastvehicle/internal/session"
	"github.com/nowa-engine/raycastvehicle/internal/worker"

	"gorm.io/gorm"
)

const defaultInterval = time.Second

// WriteStats is what the monitor reads from the recording worker.
type WriteStats interface {
	QueueLengths() map[string]int
	LastWriteDuration() time.Duration
}

// BufferStats reports how many events wait in a buffered dispatcher command.
type BufferStats interface {
	BufferLen(command string) int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// DB is optional; when set a performance row is written per tick.
	DB         *gorm.DB
	Logger     *slog.Logger
	Session    *session.Context
	Worker     WriteStats
	Buffers    BufferStats
	Vehicles   *cache.VehicleCache
	StatusFile string
	Interval   time.Duration
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func clampUint16(n int) uint16 {
	return uint16(min(max(n, 0), 65535))
}

// GetProgramStatus returns the current program status
func (s *Service) GetProgramStatus(
	rawBuffers bool,
	writeQueues bool,
	lastWrite bool,
) (output []string, perf model.RecorderPerformance) {
	buffersObj := model.BufferLengths{}
	if s.deps.Buffers != nil {
		buffersObj.Samples = clampUint16(s.deps.Buffers.BufferLen(worker.CmdRecordSample))
		buffersObj.RecoveryEvents = clampUint16(s.deps.Buffers.BufferLen(worker.CmdRecordRecovery))
	}

	writeQueuesObj := model.WriteQueueLengths{}
	var lastWriteDuration time.Duration
	if s.deps.Worker != nil {
		q := s.deps.Worker.QueueLengths()
		writeQueuesObj = model.WriteQueueLengths{
			Vehicles:       clampUint16(q["vehicles"]),
			Wheels:         clampUint16(q["wheels"]),
			Samples:        clampUint16(q["samples"] + q["send"]),
			RecoveryEvents: clampUint16(q["recovery_events"]),
		}
		lastWriteDuration = s.deps.Worker.LastWriteDuration()
	}

	perf = model.RecorderPerformance{
		Time:                time.Now(),
		BufferLengths:       buffersObj,
		WriteQueueLengths:   writeQueuesObj,
		LastWriteDurationMs: float32(lastWriteDuration.Microseconds()) / 1000,
	}
	if s.deps.Session != nil {
		perf.RunID = s.deps.Session.Run().ID
	}
	if s.deps.Vehicles != nil {
		perf.Vehicles = clampUint16(s.deps.Vehicles.Len())
	}

	if rawBuffers {
		rawBuffersStr, err := json.MarshalIndent(buffersObj, "", "  ")
		if err != nil {
			rawBuffersStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(rawBuffersStr))
	}
	if writeQueues {
		writeQueuesStr, err := json.MarshalIndent(writeQueuesObj, "", "  ")
		if err != nil {
			writeQueuesStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(writeQueuesStr))
	}
	if lastWrite {
		lastWriteStr, err := json.MarshalIndent(perf.LastWriteDurationMs, "", "  ")
		if err != nil {
			lastWriteStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(lastWriteStr))
	}

	return output, perf
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	var statusFile *os.File
	if s.deps.StatusFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.deps.StatusFile), 0o755); err != nil {
			s.setStopped()
			return fmt.Errorf("error creating status directory: %w", err)
		}
		f, err := os.Create(s.deps.StatusFile)
		if err != nil {
			s.setStopped()
			return fmt.Errorf("error creating status file: %w", err)
		}
		statusFile = f
	}

	go func() {
		defer s.setStopped()
		if statusFile != nil {
			defer statusFile.Close()
		}

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.deps.Session != nil && !s.deps.Session.Active() {
					continue
				}
				s.tick(statusFile)
			}
		}
	}()

	return nil
}

func (s *Service) tick(statusFile *os.File) {
	statusStr, perf := s.GetProgramStatus(true, true, true)

	if statusFile != nil {
		if err := statusFile.Truncate(0); err == nil {
			_, _ = statusFile.Seek(0, 0)
			for _, line := range statusStr {
				_, _ = statusFile.WriteString(line + "\n")
			}
		}
	}

	// performance rows need a run row to reference
	if s.deps.DB != nil && perf.RunID != 0 {
		if err := s.deps.DB.Create(&perf).Error; err != nil {
			s.deps.Logger.Error("Error writing performance row", "error", err)
		}
	}
}

func (s *Service) setStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
		s.isRunning = false
	}
}
