package app

// Stage is the position of a run in the collect, preprocess, detect
// sequence. Every stage reads only what the previous one persisted, so any
// of them can be rerun on its own.
type Stage int

const (
	StageNotStarted Stage = iota
	StageCollecting
	StagePreprocessing
	StageDetecting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "NOT_STARTED"
	case StageCollecting:
		return "COLLECTING"
	case StagePreprocessing:
		return "PREPROCESSING"
	case StageDetecting:
		return "DETECTING"
	case StageDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Label is the lowercase name used in metrics and span names.
func (s Stage) Label() string {
	switch s {
	case StageCollecting:
		return "collect"
	case StagePreprocessing:
		return "preprocess"
	case StageDetecting:
		return "detect"
	case StageDone:
		return "done"
	}
	return "not_started"
}
