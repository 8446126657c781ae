package handlers

import (
	"time"

	"curator/internal/catalog"
	"curator/internal/pipeline"
	"curator/internal/stage"
)

// Per-stage timeouts. Media probing is seconds, subprocess extraction low
// minutes, AI enrichment much longer; the fan-in stage carries its own
// reconcile window on top.
const (
	probeTimeout      = 2 * time.Minute
	extractTimeout    = 5 * time.Minute
	captionTimeout    = 5 * time.Minute
	transcribeTimeout = 30 * time.Minute
	fuseTimeout       = 20 * time.Minute
	describeTimeout   = 5 * time.Minute
	finalizeTimeout   = 30 * time.Second
)

// FootageTable builds the full footage pipeline. barrier is the fan-in
// handler gating the fusion stage on child frame readiness.
func FootageTable(deps Deps, barrier stage.Handler) (*pipeline.Table, error) {
	return pipeline.NewTable(catalog.AssetFootage, []pipeline.Definition{
		{
			Name:           "fileinfo",
			Trigger:        catalog.StagePendingImport,
			Next:           catalog.StageFileInfoExtracted,
			Handler:        NewFileInfo(deps),
			Timeout:        probeTimeout,
			MaxConcurrency: 4,
		},
		{
			Name:           "thumbnail",
			Trigger:        catalog.StageFileInfoExtracted,
			Next:           catalog.StageThumbnailsGenerated,
			Handler:        NewThumbnail(deps),
			Timeout:        extractTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:           "caption",
			Trigger:        catalog.StageThumbnailsGenerated,
			Next:           catalog.StageCaptioned,
			Handler:        NewCaption(deps),
			Timeout:        captionTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:           "transcribe",
			Trigger:        catalog.StageCaptioned,
			Next:           catalog.StageTranscribed,
			Handler:        NewTranscribe(deps),
			Timeout:        transcribeTimeout,
			MaxConcurrency: 1,
		},
		{
			Name:           "fuse",
			Trigger:        catalog.StageTranscribed,
			Next:           catalog.StageEmbeddingsFused,
			Handler:        NewEmbed(deps, barrier),
			Timeout:        fuseTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:           "describe",
			Trigger:        catalog.StageEmbeddingsFused,
			Next:           catalog.StageDescribed,
			Handler:        NewDescribe(deps),
			Timeout:        describeTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:    "finalize",
			Trigger: catalog.StageDescribed,
			Next:    catalog.StageComplete,
			Handler: NewFinalize(deps, []string{
				catalog.FieldDurationSecs,
				catalog.FieldThumbnailPath,
				catalog.FieldCaption,
				catalog.FieldEmbedding,
				catalog.FieldDescription,
			}),
			Timeout:        finalizeTimeout,
			MaxConcurrency: 4,
		},
	})
}

// StillsTable builds the stills pipeline: no duration probe, no audio work,
// no child frames. Stage numbering is shared with footage; skipped stages are
// simply jumped over.
func StillsTable(deps Deps) (*pipeline.Table, error) {
	return pipeline.NewTable(catalog.AssetStills, []pipeline.Definition{
		{
			Name:           "thumbnail",
			Trigger:        catalog.StagePendingImport,
			Next:           catalog.StageThumbnailsGenerated,
			Handler:        NewThumbnail(deps),
			Timeout:        extractTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:           "caption",
			Trigger:        catalog.StageThumbnailsGenerated,
			Next:           catalog.StageCaptioned,
			Handler:        NewCaption(deps),
			Timeout:        captionTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:           "fuse",
			Trigger:        catalog.StageCaptioned,
			Next:           catalog.StageEmbeddingsFused,
			Handler:        NewEmbed(deps, nil),
			Timeout:        fuseTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:           "describe",
			Trigger:        catalog.StageEmbeddingsFused,
			Next:           catalog.StageDescribed,
			Handler:        NewDescribe(deps),
			Timeout:        describeTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:    "finalize",
			Trigger: catalog.StageDescribed,
			Next:    catalog.StageComplete,
			Handler: NewFinalize(deps, []string{
				catalog.FieldThumbnailPath,
				catalog.FieldCaption,
				catalog.FieldEmbedding,
				catalog.FieldDescription,
			}),
			Timeout:        finalizeTimeout,
			MaxConcurrency: 4,
		},
	})
}

// MusicTable builds the music pipeline: audio only, no thumbnails or frames.
func MusicTable(deps Deps) (*pipeline.Table, error) {
	return pipeline.NewTable(catalog.AssetMusic, []pipeline.Definition{
		{
			Name:           "fileinfo",
			Trigger:        catalog.StagePendingImport,
			Next:           catalog.StageFileInfoExtracted,
			Handler:        NewFileInfo(deps),
			Timeout:        probeTimeout,
			MaxConcurrency: 4,
		},
		{
			Name:           "transcribe",
			Trigger:        catalog.StageFileInfoExtracted,
			Next:           catalog.StageTranscribed,
			Handler:        NewTranscribe(deps),
			Timeout:        transcribeTimeout,
			MaxConcurrency: 1,
		},
		{
			Name:           "fuse",
			Trigger:        catalog.StageTranscribed,
			Next:           catalog.StageEmbeddingsFused,
			Handler:        NewEmbed(deps, nil),
			Timeout:        fuseTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:           "describe",
			Trigger:        catalog.StageEmbeddingsFused,
			Next:           catalog.StageDescribed,
			Handler:        NewDescribe(deps),
			Timeout:        describeTimeout,
			MaxConcurrency: 2,
		},
		{
			Name:    "finalize",
			Trigger: catalog.StageDescribed,
			Next:    catalog.StageComplete,
			Handler: NewFinalize(deps, []string{
				catalog.FieldDurationSecs,
				catalog.FieldEmbedding,
				catalog.FieldDescription,
			}),
			Timeout:        finalizeTimeout,
			MaxConcurrency: 4,
		},
	})
}

// Tables builds every asset pipeline with shared collaborators.
func Tables(deps Deps, barrier stage.Handler) ([]*pipeline.Table, error) {
	footage, err := FootageTable(deps, barrier)
	if err != nil {
		return nil, err
	}
	stills, err := StillsTable(deps)
	if err != nil {
		return nil, err
	}
	music, err := MusicTable(deps)
	if err != nil {
		return nil, err
	}
	return []*pipeline.Table{footage, stills, music}, nil
}
