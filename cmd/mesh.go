package main

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sertao-labs/sentinela/internal/mesh"
)

var meshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Manage the offline municipal boundary mesh",
	Long:  "Downloads IBGE geoftp state mesh archives and stores the municipality boundaries locally so ROI resolution works without the malhas service.",
}

var meshLoadState string

var meshLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download and store one state's municipal mesh",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if meshLoadState == "" {
			return eris.New("--state is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		fetcher := mesh.NewFTPFetcher(mesh.FTPOptions{Host: cfg.IBGE.GeoFTPHost})
		loader := mesh.NewLoader(fetcher, st, cfg.IBGE.GeoFTPMeshDir)

		uf := strings.ToUpper(meshLoadState)
		n, err := loader.LoadUF(ctx, uf)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d municipality boundaries for %s\n", n, uf)
		return nil
	},
}

var meshWarmFlags struct {
	state   string
	workers int
}

// meshWarmCmd prefetches the ROI cache for every municipality of a state,
// so the first dashboard load of any of them is instant.
var meshWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Prefetch the boundary cache for all municipalities of a state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if meshWarmFlags.state == "" {
			return eris.New("--state is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		localities := initLocalities()
		states, err := localities.States(ctx)
		if err != nil {
			return eris.Wrap(err, "list states")
		}
		uf := strings.ToUpper(meshWarmFlags.state)
		var stateID int
		for _, s := range states {
			if s.Sigla == uf {
				stateID = s.ID
				break
			}
		}
		if stateID == 0 {
			return eris.Errorf("unknown state %q", meshWarmFlags.state)
		}

		municipalities, err := localities.Municipalities(ctx, stateID)
		if err != nil {
			return eris.Wrapf(err, "list municipalities of %s", uf)
		}

		resolver := initResolver(st, localities)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(meshWarmFlags.workers)
		var warmed atomic.Int64
		for _, m := range municipalities {
			m := m
			g.Go(func() error {
				if _, err := resolver.Resolve(gctx, m.Name, []int64{m.ID}); err != nil {
					// Warming is best-effort; a missing boundary is not fatal.
					zap.L().Warn("mesh warm: municipality skipped",
						zap.Int64("code", m.ID),
						zap.String("name", m.Name),
						zap.Error(err))
					return nil
				}
				warmed.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Printf("Warmed %d of %d municipalities in %s\n", warmed.Load(), len(municipalities), uf)
		return nil
	},
}

func init() {
	meshLoadCmd.Flags().StringVar(&meshLoadState, "state", "", "state UF sigla, e.g. PE")
	meshWarmCmd.Flags().StringVar(&meshWarmFlags.state, "state", "", "state UF sigla, e.g. PE")
	meshWarmCmd.Flags().IntVar(&meshWarmFlags.workers, "workers", 4, "concurrent boundary fetches")
	meshCmd.AddCommand(meshLoadCmd)
	meshCmd.AddCommand(meshWarmCmd)
	rootCmd.AddCommand(meshCmd)
}
