package datastore

const (
	TableExecutionContexts  = "execution_contexts"
	TableIdempotencyRecords = "idempotency_records"
	TableAuditEntries       = "audit_entries"
)

const (
	SchemaPublic = "public"
)
