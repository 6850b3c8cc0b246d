package storage

import (
	"context"
	"time"

	"github.com/dgellow/authbridge/internal/log"
)

// CleanupManager periodically sweeps expired tokens out of a store
type CleanupManager struct {
	sweeper  Sweeper
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sweeper Sweeper, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogDebugWithFields("storage", "Starting token cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})

	go cm.run(ctx)
}

// Stop stops the cleanup loop and waits for it to exit
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
}

// Done is closed once the loop has exited
func (cm *CleanupManager) Done() <-chan struct{} {
	return cm.doneChan
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.sweeper.Sweep(ctx)
	if err != nil {
		log.LogErrorWithFields("storage", "Failed to sweep expired tokens", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogDebugWithFields("storage", "Swept expired tokens", map[string]any{
			"count": count,
		})
	}
}
