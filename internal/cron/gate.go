package cron

import (
	"context"

	"github.com/lagoon-cms/searchsync/internal/indexer"
)

// SettingReader reads persisted search settings.
type SettingReader interface {
	Setting(ctx context.Context, name string) (string, error)
}

// SettingGate gates the periodic sync on the static configuration and
// the runtime setting, so operators can pause syncing without a
// redeploy.
type SettingGate struct {
	Settings SettingReader
	Enabled  bool
}

func (g SettingGate) SyncEnabled(ctx context.Context) bool {
	if !g.Enabled {
		return false
	}
	value, err := g.Settings.Setting(ctx, indexer.SettingSyncEnabled)
	if err != nil {
		// No runtime override recorded.
		return true
	}
	return value != "no" && value != "false" && value != "0"
}
