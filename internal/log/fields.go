package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldPeriod      = "period"
	FieldKind        = "kind"
	FieldNaturalKey  = "natural_key"
	FieldProject     = "project"
	FieldPayee       = "payee"
	FieldRole        = "role"
	FieldCategory    = "category"
	FieldOutcome     = "outcome"
	FieldAmountCents = "amount_cents"
	FieldCreated     = "created"
	FieldUpdated     = "updated"
	FieldUnchanged   = "unchanged"
	FieldSkipped     = "skipped"
	FieldErrors      = "errors"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentAllocation = "allocation"
	ComponentDebt       = "debt"
	ComponentMatching   = "matching"
	ComponentReconcile  = "reconcile"
	ComponentPnL        = "pnl"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentRateLimit  = "rate_limit"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpAllocate  = "allocate"
	OpAggregate = "aggregate"
	OpCleanup   = "cleanup"
	OpValidate  = "validate"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithRequestID adds the request id when one is set
func (f LogFields) WithRequestID(id string) LogFields {
	if id != "" {
		f[FieldRequestID] = id
	}
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithPeriod adds the period key
func (f LogFields) WithPeriod(period string) LogFields {
	f[FieldPeriod] = period
	return f
}

// WithKind adds the allocation kind
func (f LogFields) WithKind(kind string) LogFields {
	f[FieldKind] = kind
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(naturalKey, project, category string, amountCents int64) LogFields {
	f[FieldNaturalKey] = naturalKey
	f[FieldProject] = project
	f[FieldCategory] = category
	f[FieldAmountCents] = amountCents
	return f
}

// WithCounts adds reconciliation counters
func (f LogFields) WithCounts(created, updated, unchanged, skipped, errors int) LogFields {
	f[FieldCreated] = created
	f[FieldUpdated] = updated
	f[FieldUnchanged] = unchanged
	f[FieldSkipped] = skipped
	f[FieldErrors] = errors
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
