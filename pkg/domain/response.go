package domain

// ExecutionResponse is what a State hands back to the executor.
//
// A synchronous response carries a final Status. An asynchronous response
// carries the correlation ids the instance now waits on; when Children is
// set it is a spawning response and every child is triggered as a branch.
type ExecutionResponse struct {
	Async              bool                `json:"async"`
	Status             ExecutionStatus     `json:"status"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	StateExecutionData *StateExecutionData `json:"state_execution_data,omitempty"`
	CorrelationIDs     []string            `json:"correlation_ids,omitempty"`
	// Params are merged into the instance's state params.
	Params map[string]any `json:"params,omitempty"`
	// Elements are pushed onto the instance's element stack, last one innermost.
	Elements []ContextElement `json:"elements,omitempty"`
	// NotifyElements travel with the run's end signal to the waiting parent.
	NotifyElements []ContextElement          `json:"notify_elements,omitempty"`
	Children       []*StateExecutionInstance `json:"-"`
}

// IsSpawning reports whether the response asks for child branches.
func (r *ExecutionResponse) IsSpawning() bool {
	return len(r.Children) > 0
}

// NotifyResponse is the payload delivered for one correlation id.
type NotifyResponse struct {
	Status       ExecutionStatus  `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Data         map[string]any   `json:"data,omitempty"`
	Elements     []ContextElement `json:"elements,omitempty"`
}

// AggregateStatus folds a set of responses with AND semantics:
// SUCCESS only when every response succeeded.
func AggregateStatus(responses map[string]NotifyResponse) (ExecutionStatus, []string) {
	status := StatusSuccess
	var messages []string
	for _, r := range responses {
		if r.Status == StatusSuccess {
			continue
		}
		status = StatusFailed
		if r.ErrorMessage != "" {
			messages = append(messages, r.ErrorMessage)
		}
	}
	return status, messages
}
