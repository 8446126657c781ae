package catalog

// AssetType names one record family with its own pipeline.
type AssetType string

const (
	AssetFootage AssetType = "footage"
	AssetStills  AssetType = "stills"
	AssetMusic   AssetType = "music"
)

// Footage pipeline stages, in order. The gap before Complete leaves room for
// asset-type-specific late stages without renumbering.
var (
	StagePendingImport       = Stage{Ordinal: 0, Label: "Pending Import"}
	StageFileInfoExtracted   = Stage{Ordinal: 1, Label: "File Info Extracted"}
	StageThumbnailsGenerated = Stage{Ordinal: 2, Label: "Thumbnails Generated"}
	StageCaptioned           = Stage{Ordinal: 3, Label: "Captioned"}
	StageTranscribed         = Stage{Ordinal: 4, Label: "Transcribed"}
	StageEmbeddingsFused     = Stage{Ordinal: 5, Label: "Embeddings Fused"}
	StageDescribed           = Stage{Ordinal: 6, Label: "Description Generated"}
	StageComplete            = Stage{Ordinal: 9, Label: "Complete"}
)

// FootageStages is the ordered stage set for footage records.
var FootageStages = []Stage{
	StagePendingImport,
	StageFileInfoExtracted,
	StageThumbnailsGenerated,
	StageCaptioned,
	StageTranscribed,
	StageEmbeddingsFused,
	StageDescribed,
	StageComplete,
}

// Frame (child record) sub-stages, in order.
var (
	FramePendingThumbnail  = Stage{Ordinal: 1, Label: "Pending Thumbnail"}
	FrameThumbnailComplete = Stage{Ordinal: 2, Label: "Thumbnail Complete"}
	FrameCaptionComplete   = Stage{Ordinal: 3, Label: "Caption Complete"}
	FrameAudioTranscribed  = Stage{Ordinal: 4, Label: "Audio Transcribed"}
)

// FrameStages is the ordered stage set for frame records.
var FrameStages = []Stage{
	FramePendingThumbnail,
	FrameThumbnailComplete,
	FrameCaptionComplete,
	FrameAudioTranscribed,
}

// FrameReadyThreshold is the sub-stage at or past which a frame counts as
// ready for the parent's fan-in checkpoint.
var FrameReadyThreshold = FrameAudioTranscribed

// StagesFor returns the ordered stage set for an asset type. Stills and music
// share the footage numbering; their pipelines simply skip stages that do not
// apply.
func StagesFor(asset AssetType) []Stage {
	switch asset {
	case AssetFootage, AssetStills, AssetMusic:
		return FootageStages
	default:
		return nil
	}
}
