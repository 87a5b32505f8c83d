package cmd

import (
	"fmt"

	"github.com/foomo/keel/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewSyncCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload pending stories and refresh the local store once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := log.Logger()
			ctx := cmd.Context()

			c, err := newComponents(ctx, v, l)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(ctx); err != nil {
					l.Warn("failed to close store", zap.Error(err))
				}
			}()

			if !c.monitor.Probe(ctx) {
				return fmt.Errorf("story service %s is not reachable", netProbeURLFlag(v))
			}
			if err := c.service.Sync(ctx); err != nil {
				return err
			}

			pending, err := c.store.Pending(ctx)
			if err != nil {
				return err
			}
			all, err := c.store.GetAll(ctx)
			if err != nil {
				return err
			}
			l.Info("synced", zap.Int("stories", len(all)), zap.Int("pending", len(pending)))
			return nil
		},
	}

	flags := cmd.Flags()
	addAPIURLFlag(flags, v)
	addAPITokenFlag(flags, v)
	addAPITimeoutFlag(flags, v)
	addFetchRetriesFlag(flags, v)
	addFetchRetryDelayFlag(flags, v)
	addDatabaseFlag(flags, v)
	addNetProbeURLFlag(flags, v)
	addNetProbeIntervalFlag(flags, v)

	return cmd
}
