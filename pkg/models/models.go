// Package models defines the shared domain types persisted by the state store
// and exchanged between the planner, coordinator, and ceremony subsystems.
package models

import "time"

// Epic is a unit of planned work containing stories.
type Epic struct {
	EpicNum         int        `json:"epic_num"`
	Title           string     `json:"title"`
	Feature         string     `json:"feature"`
	Status          EpicStatus `json:"status"`
	TotalPoints     int        `json:"total_points"`
	CompletedPoints int        `json:"completed_points"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Story is a single implementable unit of work within an epic. The composite
// key is (EpicNum, StoryNum).
type Story struct {
	EpicNum     int         `json:"epic_num"`
	StoryNum    int         `json:"story_num"`
	Title       string      `json:"title"`
	Status      StoryStatus `json:"status"`
	Owner       string      `json:"owner"`
	Points      int         `json:"points"`
	Priority    int         `json:"priority"`
	ReworkCount int         `json:"rework_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// WorkflowRun records a single execution of a workflow.
type WorkflowRun struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	EpicNum      *int           `json:"epic_num,omitempty"`
	StoryNum     *int           `json:"story_num,omitempty"`
	Status       WorkflowStatus `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	Output       WorkflowOutput `json:"output"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// WorkflowOutput is the structured output blob stored with a workflow run.
type WorkflowOutput struct {
	Steps     []StepResult      `json:"steps"`
	Variables map[string]string `json:"variables"`
	Artifacts []string          `json:"artifacts"`
	Errors    []string          `json:"errors"`
}

// StepResult records the outcome of one step within a workflow run.
type StepResult struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	DurationMS  int64      `json:"duration"`
	ToolCalls   int        `json:"tool_calls"`
	Outputs     []string   `json:"outputs,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Ceremony is a recorded collaborative session. The row and its transcript
// file are created in a single transaction.
type Ceremony struct {
	ID             string       `json:"id"`
	Type           CeremonyType `json:"type"`
	EpicNum        int          `json:"epic_num"`
	StoryNum       *int         `json:"story_num,omitempty"`
	TranscriptPath string       `json:"transcript_path"`
	ActionItems    []string     `json:"action_items"`
	Learnings      []string     `json:"learnings"`
	Participants   []string     `json:"participants"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ConversationType discriminates direct-message and channel conversations.
type ConversationType string

// Conversation types.
const (
	ConversationDM      ConversationType = "dm"
	ConversationChannel ConversationType = "channel"
)

// Thread groups replies to a parent message. reply_count is maintained by a
// database trigger on message inserts.
type Thread struct {
	ID               string           `json:"id"`
	ParentMessageID  string           `json:"parent_message_id"`
	ConversationID   string           `json:"conversation_id"`
	ConversationType ConversationType `json:"conversation_type"`
	ReplyCount       int              `json:"reply_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Message is a single conversation message. thread_count mirrors the reply
// count of the thread rooted at this message, maintained by trigger.
type Message struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversation_id"`
	ConversationType ConversationType `json:"conversation_type"`
	Content          string           `json:"content"`
	Role             string           `json:"role"`
	AgentID          string           `json:"agent_id,omitempty"`
	ThreadID         *string          `json:"thread_id,omitempty"`
	ReplyToMessageID *string          `json:"reply_to_message_id,omitempty"`
	ThreadCount      int              `json:"thread_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Feature is a named feature scope registered in the state store. Documents
// for a feature live under docs/features/<name>/.
type Feature struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact is a file created or modified by a workflow step in a tracked
// directory.
type Artifact struct {
	ID           int64     `json:"id"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	WorkflowName string    `json:"workflow_name"`
	EpicNum      *int      `json:"epic_num,omitempty"`
	StoryNum     *int      `json:"story_num,omitempty"`
	Agent        string    `json:"agent,omitempty"`
	Phase        int       `json:"phase,omitempty"`
	Variables    string    `json:"variables,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
