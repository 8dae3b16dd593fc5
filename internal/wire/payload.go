package wire

// Payload kinds carried inside envelopes once decrypted. Each is
// discriminated by its Type field; endpoints marshal one of these,
// seal the bytes, and wrap the ciphertext in an Envelope.

const (
	PayloadTerminalOutput     = "terminal_output"
	PayloadUserPrompt         = "user_prompt"
	PayloadPermissionRequest  = "permission_request"
	PayloadPermissionResponse = "permission_response"
	PayloadDiffPatch          = "diff_patch"
	PayloadPatchDecision      = "patch_decision"
	PayloadPatchApplied       = "patch_applied"
	PayloadUndoRequest        = "undo_request"
	PayloadUndoResult         = "undo_result"
	PayloadAgentControl       = "agent_control"
	PayloadAgentStatusUpdate  = "agent_status_update"
	PayloadHeartbeat          = "heartbeat"
	PayloadSessionState       = "session_state"
)

// TypeOnly is used to sniff the discriminant before unmarshaling the
// full payload.
type TypeOnly struct {
	Type string `json:"type"`
}

type TerminalOutput struct {
	Type     string `json:"type"`
	Stream   string `json:"stream"`
	Data     string `json:"data"`
	Sequence uint64 `json:"sequence"`
}

type UserPrompt struct {
	Type    string `json:"type"`
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

type PermissionDetails struct {
	Path    string `json:"path,omitempty"`
	Command string `json:"command,omitempty"`
}

type PermissionRequest struct {
	Type        string            `json:"type"`
	RequestID   string            `json:"requestId"`
	Action      string            `json:"action"`
	Description string            `json:"description"`
	Details     PermissionDetails `json:"details"`
	TimeoutMS   int64             `json:"timeout,omitempty"`
}

// PermissionDecision values.
const (
	DecisionApprove       = "approve"
	DecisionDeny          = "deny"
	DecisionApproveAlways = "approve_always"
	DecisionDenyAlways    = "deny_always"
)

type PermissionResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Decision  string `json:"decision"`
}

type DiffFileSummary struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// RiskLevel values.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

type DiffPatch struct {
	Type             string            `json:"type"`
	PatchID          string            `json:"patchId"`
	Files            []DiffFileSummary `json:"files"`
	Summary          string            `json:"summary"`
	EstimatedRisk    string            `json:"estimatedRisk"`
	TotalAdditions   int               `json:"totalAdditions"`
	TotalDeletions   int               `json:"totalDeletions"`
}

// PatchDecision values.
const (
	PatchDecisionApply  = "apply"
	PatchDecisionReject = "reject"
	PatchDecisionEdit   = "edit"
)

type PatchDecision struct {
	Type       string `json:"type"`
	PatchID    string `json:"patchId"`
	Decision   string `json:"decision"`
	EditedDiff string `json:"editedDiff,omitempty"`
}

type AppliedFileRecord struct {
	Path        string `json:"path"`
	BeforeHash  string `json:"beforeHash"`
	AfterHash   string `json:"afterHash"`
}

type AppliedPatchWire struct {
	PatchID   string              `json:"patchId"`
	Timestamp int64               `json:"timestamp"`
	AgentID   string              `json:"agentId"`
	Prompt    string              `json:"prompt"`
	Files     []AppliedFileRecord `json:"files"`
}

type PatchApplied struct {
	Type  string           `json:"type"`
	Patch AppliedPatchWire `json:"patch"`
}

type UndoRequest struct {
	Type    string `json:"type"`
	PatchID string `json:"patchId"`
}

type UndoResult struct {
	Type          string   `json:"type"`
	PatchID       string   `json:"patchId"`
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
	RevertedFiles []string `json:"revertedFiles"`
}

// AgentControl commands.
const (
	AgentCommandStart     = "start"
	AgentCommandStop      = "stop"
	AgentCommandRetry     = "retry"
	AgentCommandConfigure = "configure"
)

type AgentControlConfig struct {
	Model           string   `json:"model,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	ToolPermissions []string `json:"toolPermissions,omitempty"`
}

type AgentControl struct {
	Type    string               `json:"type"`
	Command string               `json:"command"`
	AgentID string               `json:"agentId"`
	Config  *AgentControlConfig  `json:"config,omitempty"`
}

// Supervisor status values.
const (
	StatusIdle          = "idle"
	StatusRunning       = "running"
	StatusWaitingInput  = "waiting_input"
	StatusError         = "error"
)

type AgentStatusUpdate struct {
	Type       string `json:"type"`
	AgentID    string `json:"agentId"`
	Status     string `json:"status"`
	LastPrompt string `json:"lastPrompt,omitempty"`
}

type Heartbeat struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	AgentStatus string `json:"agentStatus"`
}

// PendingPermissionWire and PatchHistoryEntry back the SessionState
// resync snapshot (a supplemented feature, see SPEC_FULL.md).
type PendingPermissionWire struct {
	RequestID   string            `json:"requestId"`
	Action      string            `json:"action"`
	Description string            `json:"description"`
	Details     PermissionDetails `json:"details"`
}

type PatchHistoryEntry struct {
	PatchID string `json:"patchId"`
	Files   int    `json:"files"`
}

type SessionState struct {
	Type               string                  `json:"type"`
	AgentStatus        string                  `json:"agentStatus"`
	PendingPermissions []PendingPermissionWire `json:"pendingPermissions"`
	PatchHistory       []PatchHistoryEntry     `json:"patchHistory"`
}
