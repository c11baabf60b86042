package recovery

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DaemonConfig configures automatic checkpoint triggering.
type DaemonConfig struct {
	// Interval is the time-based trigger: checkpoint at least this often.
	Interval time.Duration

	// MaxWALSize is the size-based trigger: checked every 30 seconds, it
	// checkpoints whenever the log's total size is at least this many
	// bytes. Zero disables it.
	MaxWALSize int64

	Enabled bool
}

// DefaultDaemonConfig returns a sensible default configuration.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Interval:   10 * time.Minute,
		MaxWALSize: 10 * 1024 * 1024,
		Enabled:    true,
	}
}

// DaemonStats tracks checkpoint daemon activity for observability.
type DaemonStats struct {
	TotalCheckpoints       int64
	TimeBasedTriggers      int64
	SizeBasedTriggers      int64
	ManualTriggers         int64
	FailedCheckpoints      int64
	LastCheckpointTime     time.Time
	LastCheckpointDuration time.Duration
}

// CheckpointDaemon periodically calls a Manager's Checkpoint in the
// background, the same way a production WAL would amortize its cost off
// the critical path of ordinary transactions. Concurrent manual triggers
// and the daemon's own tick are safe to race: Manager.Checkpoint already
// coalesces them via singleflight.
type CheckpointDaemon struct {
	mgr      *Manager
	cfg      DaemonConfig
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool

	statsMu sync.RWMutex
	stats   DaemonStats
}

// NewCheckpointDaemon creates a daemon over mgr. Start must be called
// separately to begin the background ticker.
func NewCheckpointDaemon(mgr *Manager, cfg DaemonConfig) *CheckpointDaemon {
	return &CheckpointDaemon{
		mgr:      mgr,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background checkpoint ticker. Calling Start twice
// without an intervening Stop returns an error.
func (cd *CheckpointDaemon) Start() error {
	if !cd.cfg.Enabled {
		return nil
	}
	if !cd.running.CompareAndSwap(false, true) {
		return fmt.Errorf("checkpoint daemon already running")
	}
	cd.stopChan = make(chan struct{})
	cd.wg.Add(1)
	go cd.run()
	return nil
}

// Stop signals the ticker loop to exit and waits for it to finish.
func (cd *CheckpointDaemon) Stop() error {
	if !cd.running.Load() {
		return nil
	}
	close(cd.stopChan)
	cd.wg.Wait()
	cd.running.Store(false)
	return nil
}

func (cd *CheckpointDaemon) run() {
	defer cd.wg.Done()

	ticker := time.NewTicker(cd.cfg.Interval)
	defer ticker.Stop()

	sizeTicker := time.NewTicker(30 * time.Second)
	defer sizeTicker.Stop()

	for {
		select {
		case <-cd.stopChan:
			return
		case <-ticker.C:
			cd.trigger("time-based", &cd.stats.TimeBasedTriggers)
		case <-sizeTicker.C:
			if cd.shouldCheckpointBySize() {
				cd.trigger("size-based", &cd.stats.SizeBasedTriggers)
			}
		}
	}
}

func (cd *CheckpointDaemon) shouldCheckpointBySize() bool {
	if cd.cfg.MaxWALSize <= 0 {
		return false
	}
	return int64(cd.mgr.log.Size()) >= cd.cfg.MaxWALSize
}

func (cd *CheckpointDaemon) trigger(reason string, counter *int64) {
	start := time.Now()
	_, err := cd.mgr.Checkpoint()
	duration := time.Since(start)

	cd.statsMu.Lock()
	defer cd.statsMu.Unlock()
	if err != nil {
		cd.stats.FailedCheckpoints++
		fmt.Printf("checkpoint daemon: %s checkpoint failed: %v\n", reason, err)
		return
	}
	cd.stats.TotalCheckpoints++
	*counter++
	cd.stats.LastCheckpointTime = start
	cd.stats.LastCheckpointDuration = duration
}

// TriggerManualCheckpoint runs a checkpoint outside the ticker schedule,
// e.g. for an administrative command. It shares the same singleflight
// group as the ticker, so a concurrent tick coalesces with it.
func (cd *CheckpointDaemon) TriggerManualCheckpoint() (DaemonStats, error) {
	start := time.Now()
	_, err := cd.mgr.Checkpoint()
	duration := time.Since(start)

	cd.statsMu.Lock()
	defer cd.statsMu.Unlock()
	if err != nil {
		cd.stats.FailedCheckpoints++
		return cd.stats, fmt.Errorf("manual checkpoint: %w", err)
	}
	cd.stats.TotalCheckpoints++
	cd.stats.ManualTriggers++
	cd.stats.LastCheckpointTime = start
	cd.stats.LastCheckpointDuration = duration
	return cd.stats, nil
}

// Stats returns a snapshot of daemon activity.
func (cd *CheckpointDaemon) Stats() DaemonStats {
	cd.statsMu.RLock()
	defer cd.statsMu.RUnlock()
	return cd.stats
}

// IsRunning reports whether the daemon's ticker goroutine is active.
func (cd *CheckpointDaemon) IsRunning() bool {
	return cd.running.Load()
}
