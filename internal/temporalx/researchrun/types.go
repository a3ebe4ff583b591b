package researchrun

const (
	WorkflowName    = "research_run"
	ActivityExecute = "research_run_execute"
)

type RunInput struct {
	RunID string `json:"run_id"`
}

func workflowID(runID string) string { return "research_run:" + runID }
