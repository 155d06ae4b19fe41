package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. grant_promoted).
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldControllerID identifies the controller instance that issued a request.
	FieldControllerID = "controller_id"
	// FieldWorkerKey identifies a worker incarnation.
	FieldWorkerKey = "worker_key"
	// FieldBindingState is the binding channel state after a transition.
	FieldBindingState = "binding_state"
	// FieldGeneration is the connect attempt a binding callback belongs to.
	FieldGeneration = "generation"
)
