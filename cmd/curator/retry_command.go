package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/catalog"
)

func newRetryCommand(cctx *commandContext) *cobra.Command {
	var stageOrdinal int

	cmd := &cobra.Command{
		Use:   "retry <asset-type> <business-key>",
		Short: "Force a paused or failed record back into the pipeline",
		Long: "Sets the record's status to a Force Resume override and clears its retry\n" +
			"bookkeeping. The daemon re-runs the targeted stage on its next cycle even\n" +
			"when the record was parked awaiting operator input.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			asset := catalog.AssetType(args[0])
			switch asset {
			case catalog.AssetFootage, catalog.AssetStills, catalog.AssetMusic:
			default:
				return fmt.Errorf("unknown asset type %q", args[0])
			}

			store, err := cctx.recordStore()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			rec, err := store.FindRecordByKey(ctx, asset, args[1])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no %s record with key %s", asset, args[1])
			}

			stage, err := resumeStage(rec, asset, stageOrdinal, cmd.Flags().Changed("stage"))
			if err != nil {
				return err
			}

			rec.State = catalog.ForceResume(stage)
			rec.Attempts = 0
			rec.NextAttemptAt = time.Time{}
			rec.DiagnosticNote = ""
			if err := store.UpdateRecord(ctx, rec); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Record %s set to %s\n", rec.BusinessKey, rec.State)
			return nil
		},
	}

	cmd.Flags().IntVar(&stageOrdinal, "stage", -1, "Stage ordinal to resume at (default: the record's current stage)")
	return cmd
}

// resumeStage picks the stage the override targets: an explicit --stage
// ordinal, or the record's current stage. A paused record carries no stage,
// so it requires the flag.
func resumeStage(rec *catalog.Record, asset catalog.AssetType, ordinal int, flagSet bool) (catalog.Stage, error) {
	if flagSet {
		for _, s := range catalog.StagesFor(asset) {
			if s.Ordinal == ordinal {
				return s, nil
			}
		}
		return catalog.Stage{}, fmt.Errorf("no %s stage with ordinal %d", asset, ordinal)
	}
	if rec.State.Kind == catalog.StateAwaitingInput {
		return catalog.Stage{}, fmt.Errorf("record %s is awaiting input; pass --stage to pick the resume point", rec.BusinessKey)
	}
	return rec.State.Stage, nil
}
