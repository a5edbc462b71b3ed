package pipeline

// Stage identifies a pipeline phase for progress reporting.
type Stage string

const (
	StageClassify  Stage = "classify"
	StagePlan      Stage = "plan"
	StageSearch    Stage = "search"
	StageRerank    Stage = "rerank"
	StageScrape    Stage = "scrape"
	StageSummarize Stage = "summarize"
	StageReflect   Stage = "reflect"
	StageAssemble  Stage = "assemble"
	StageReport    Stage = "report"
	StageVerify    Stage = "verify"
	StageDone      Stage = "done"
)

// ProgressFunc receives pipeline progress events. Events are emitted
// sequentially from the orchestrating goroutine; implementations must
// not block.
type ProgressFunc func(Event)

// Event is one progress update.
type Event struct {
	Stage         Stage
	Iteration     int    // research loop iteration, 0 outside the loop
	MaxIterations int    // configured iteration cap
	Count         int    // items produced by the stage so far
	Total         int    // items the stage set out to process
	Message       string // human-readable status
}
