package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/catalog"
)

const statusQueryTimeout = 60 * time.Second

func newStatusCommand(cctx *commandContext) *cobra.Command {
	var showEmpty bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show record counts per pipeline stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cctx.recordStore()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), statusQueryTimeout)
			defer cancel()

			colorize := shouldColorize(cmd.OutOrStdout())
			var rows [][]string
			for _, asset := range []catalog.AssetType{catalog.AssetFootage, catalog.AssetStills, catalog.AssetMusic} {
				for _, stage := range catalog.StagesFor(asset) {
					records, err := store.FindRecords(ctx, asset, catalog.Progress(stage))
					if err != nil {
						return fmt.Errorf("count %s records at %s: %w", asset, stage, err)
					}
					if len(records) == 0 && !showEmpty {
						continue
					}
					rows = append(rows, []string{string(asset), stage.String(), strconv.Itoa(len(records))})
				}

				paused, err := store.FindRecords(ctx, asset, catalog.AwaitingInput())
				if err != nil {
					return fmt.Errorf("count paused %s records: %w", asset, err)
				}
				if len(paused) > 0 {
					label := catalog.AwaitingInput().String()
					if colorize {
						label = "\x1b[33m" + label + "\x1b[0m"
					}
					rows = append(rows, []string{string(asset), label, strconv.Itoa(len(paused))})
				}
			}

			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records in flight.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Asset", "Status", "Count"}, rows, 3))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showEmpty, "all", false, "Include stages with zero records")
	return cmd
}
