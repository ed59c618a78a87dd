package models

// Stage identifies a position in the analysis pipeline. Transitions are
// strictly forward except StageFailed, which is reachable from any stage.
type Stage string

const (
	StageClassification Stage = "classification"
	StageExtraction     Stage = "extraction"
	StageRedaction      Stage = "redaction"
	StageChunking       Stage = "chunking"
	StageEmbedding      Stage = "embedding"
	StageStorage        Stage = "storage"
	StageCorrelation    Stage = "correlation"
	StageAnalysis       Stage = "analysis"
	StageReport         Stage = "report"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// StageOrder is the forward sequence the orchestrator advances through.
var StageOrder = []Stage{
	StageClassification,
	StageExtraction,
	StageRedaction,
	StageChunking,
	StageEmbedding,
	StageStorage,
	StageCorrelation,
	StageAnalysis,
	StageReport,
}

// Index returns the position of the stage in StageOrder, or -1 for the
// terminal pseudo-stages.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Label returns the human-readable stage name used in progress events.
func (s Stage) Label() string {
	switch s {
	case StageClassification:
		return "Classifying source platform"
	case StageExtraction:
		return "Extracting archives"
	case StageRedaction:
		return "Redacting sensitive data"
	case StageChunking:
		return "Chunking content"
	case StageEmbedding:
		return "Generating embeddings"
	case StageStorage:
		return "Storing documents"
	case StageCorrelation:
		return "Correlating with past incidents"
	case StageAnalysis:
		return "Analyzing root cause"
	case StageReport:
		return "Building report"
	case StageCompleted:
		return "Completed"
	case StageFailed:
		return "Failed"
	}
	return string(s)
}
