package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Context level fields, propagated through the call chain.
const (
	FieldRequestID   = "request_id"
	FieldWorkspaceID = "workspace_id"
	FieldUserID      = "user_id"
	FieldImportRunID = "import_run_id"
	FieldRowID       = "row_id"
	FieldLeadID      = "lead_id"
	FieldComponent   = "component"
)

// Entry level metric fields.
const (
	FieldChunk      = "chunk"
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
)
