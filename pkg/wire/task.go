package wire

import "encoding/json"

// TaskType enumerates the typed tasks the task router (C8) dispatches (§4.8).
type TaskType string

const (
	TaskTypeChat           TaskType = "chat"
	TaskTypeAgentSpawn     TaskType = "agent.spawn"
	TaskTypeAgentTerminate TaskType = "agent.terminate"
	TaskTypeInvokeTool     TaskType = "invoke_tool"
	TaskTypeSearchMemory   TaskType = "search_memory"
	TaskTypeStoreFact      TaskType = "store_fact"
	TaskTypeRecordEpisode  TaskType = "recordEpisode"
	TaskTypeLearnProcedure TaskType = "learnProcedure"
	TaskTypeListTools      TaskType = "list_tools"
)

// Task is the typed envelope carried in a TaskPayload.Task field.
type Task struct {
	Type      TaskType        `json:"type"`
	ToolID    string          `json:"toolId,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Approval  *Approval       `json:"approval,omitempty"`
	Message   string          `json:"message,omitempty"`
	Query     string          `json:"query,omitempty"`
}

// Approval accompanies an invoke_tool task when the policy engine or the
// agent's trust level requires human sign-off (§4.8 approval rule).
type Approval struct {
	ApprovedBy string `json:"approvedBy"`
	ApprovedAt string `json:"approvedAt,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// TaskResult is what the task router resolves a dispatched task with,
// before it is wrapped in a ResultPayload or an ErrorPayload.
type TaskResult struct {
	Content any `json:"content,omitempty"`
}
