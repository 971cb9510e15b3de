package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/hiveroute/hiveroute/internal/database/models"
)

// SwitchTable caches the cluster switch records and resolves which of them is
// the local switch. Refresh is meant to be called periodically from a
// background goroutine; Snapshot is safe for concurrent readers.
type SwitchTable struct {
	directory *Directory
	hostname  string

	mu       sync.RWMutex
	localID  int64
	switches map[int64]*models.Switch
}

// NewSwitchTable creates an empty table for the switch running on hostname.
// Call Refresh once before serving.
func NewSwitchTable(directory *Directory, hostname string) *SwitchTable {
	return &SwitchTable{directory: directory, hostname: hostname}
}

// Refresh reloads the switch table and re-resolves the local switch id.
// A hostname absent from the table is an error: routing locality decisions
// cannot be made without knowing which switch this process is.
func (t *SwitchTable) Refresh(ctx context.Context) error {
	switches, err := t.directory.ListSwitches(ctx)
	if err != nil {
		return fmt.Errorf("refreshing switch table: %w", err)
	}

	var localID int64
	found := false
	for _, sw := range switches {
		if sw.Hostname == t.hostname {
			localID = sw.ID
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("local switch %q not present in switch table", t.hostname)
	}

	t.mu.Lock()
	t.switches = switches
	t.localID = localID
	t.mu.Unlock()
	return nil
}

// Snapshot returns the local switch id and the current switch map. Callers
// must treat the map as read-only.
func (t *SwitchTable) Snapshot() (localID int64, switches map[int64]*models.Switch) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localID, t.switches
}
