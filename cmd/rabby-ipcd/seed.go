package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/rabbyhub/desktop-ipc/pkg/dapps"
	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// seedFile is the TOML layout read by "rabby-ipcd seed":
//
//	pinned = ["https://app.uniswap.org"]
//
//	[[dapps]]
//	origin = "https://app.uniswap.org"
//	alias = "Uniswap"
type seedFile struct {
	Dapps  []seedDapp `toml:"dapps"`
	Pinned []string   `toml:"pinned"`
}

type seedDapp struct {
	Origin     string `toml:"origin"`
	Alias      string `toml:"alias"`
	FaviconURL string `toml:"favicon_url"`
}

func loadSeedFile(path string) (*seedFile, error) {
	var f seedFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	if len(f.Dapps) == 0 {
		return nil, fmt.Errorf("seed file %s: no dapps", path)
	}
	return &f, nil
}

// applySeed posts every dapp in seed through the dapps service and pins the
// listed origins. Origins already registered are skipped. It returns the
// number of dapps added.
func applySeed(ctx context.Context, store dapps.Store, pub events.EventPublisher, seed *seedFile) (int, error) {
	svc := dapps.NewService(store, pub)
	added := 0
	for _, d := range seed.Dapps {
		err := svc.Post(ctx, ipc.Dapp{Origin: d.Origin, Alias: d.Alias, FaviconURL: d.FaviconURL})
		var chErr *ipc.ChannelError
		switch {
		case err == nil:
			added++
		case errors.As(err, &chErr) && chErr.Code == ipc.CodeAlreadyExists:
		default:
			return added, fmt.Errorf("seed %s: %w", d.Origin, err)
		}
	}
	if len(seed.Pinned) > 0 {
		if err := svc.TogglePin(ctx, seed.Pinned, true); err != nil {
			return added, fmt.Errorf("pin seeded dapps: %w", err)
		}
	}
	return added, nil
}
