package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinglue/pg-repo-sub000/config"
	"github.com/pinglue/pg-repo-sub000/core/channel"
)

// ConfigOwner owns declared channels that name no owner.
const ConfigOwner = "config"

// DeclareChannels registers every configured channel with its owner. A
// channel the owner already holds has its settings merged instead, so the
// same declarations can be applied again after a reload. Fields dropped
// from a declaration keep their previous value.
func DeclareChannels(ctx context.Context, m *channel.Manager, decls []config.ChannelConfig) error {
	var errs []error
	for _, d := range decls {
		owner := d.Owner
		if owner == "" {
			owner = ConfigOwner
		}
		patch := d.Settings

		var err error
		if ch, ok := m.Channel(d.Name); ok && ch.Owner() == owner {
			err = m.ChanSettings(ctx, d.Name, owner, &patch)
		} else {
			err = m.RegChannel(ctx, d.Name, owner, &patch)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("declare channel %q: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}
