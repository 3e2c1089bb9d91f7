package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Link is one interface reported by an Enumerator.
type Link struct {
	Index int
	Name  string
	Up    bool
}

// LinkAddress is one address reported by an Enumerator.
type LinkAddress struct {
	Index   int
	Address Address
}

// Enumerator lists the kernel's current interfaces and addresses.
type Enumerator interface {
	Links(ctx context.Context) ([]Link, error)
	Addresses(ctx context.Context) ([]LinkAddress, error)
}

// SyncStats summarizes one Sync run.
type SyncStats struct {
	Links     int
	Removed   int
	Addresses int
	Skipped   int
}

// Sync brings the registry in line with the enumerator in two passes:
// first every link is upserted with its status (and entries the kernel no
// longer reports are removed), then every interface's address list is
// reconciled. Address problems are logged and skipped; only enumeration
// failures are returned.
func Sync(ctx context.Context, r *Registry, e Enumerator, logger zerolog.Logger) (SyncStats, error) {
	var stats SyncStats

	links, err := e.Links(ctx)
	if err != nil {
		return stats, fmt.Errorf("list links: %w", err)
	}

	seen := make(map[int]bool, len(links))
	for _, l := range links {
		seen[l.Index] = true
		r.UpsertByIndex(l.Index, l.Name)
		r.SetStatus(l.Index, l.Up)
		stats.Links++
	}
	for _, iface := range r.Snapshot() {
		if !seen[iface.Index] && r.RemoveInterface(iface.Index) {
			logger.Info().Str("interface", iface.Name).Int("index", iface.Index).Msg("interface gone since last sync")
			stats.Removed++
		}
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	addrs, err := e.Addresses(ctx)
	if err != nil {
		return stats, fmt.Errorf("list addresses: %w", err)
	}

	want := make(map[int][]Address)
	for _, la := range addrs {
		want[la.Index] = append(want[la.Index], la.Address)
	}

	for _, iface := range r.Snapshot() {
		keep := make(map[Address]bool, len(want[iface.Index]))
		for _, a := range want[iface.Index] {
			keep[a] = true
		}
		for _, a := range iface.Addresses {
			if !keep[a] {
				_, _ = r.RemoveAddress(iface.Index, a)
			}
		}
		for _, a := range want[iface.Index] {
			err := r.AddAddress(iface.Index, a)
			switch {
			case err == nil:
				stats.Addresses++
			case errors.Is(err, ErrIncompletePrefix):
				stats.Skipped++
			default:
				stats.Skipped++
				logger.Warn().Err(err).Str("interface", iface.Name).Msg("skipping address")
			}
		}
		delete(want, iface.Index)
	}

	for index, list := range want {
		stats.Skipped += len(list)
		logger.Debug().Int("index", index).Int("addresses", len(list)).Msg("addresses for untracked interface")
	}

	return stats, nil
}
