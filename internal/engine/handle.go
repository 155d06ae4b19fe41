package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"enginehost/internal/logging"
)

// Ref is the opaque, pointer-sized token a Native hands back for a live instance.
type Ref uintptr

// Intent is an opaque payload forwarded to the engine. Its meaning is defined
// by the engine, not by this package.
type Intent struct {
	Action string            `json:"action"`
	URI    string            `json:"uri,omitempty"`
	Extras map[string]string `json:"extras,omitempty"`
}

// Native is the boundary to the engine implementation.
type Native interface {
	ConstructNativeClass() (Ref, error)
	DestroyNativeClass(Ref) error
	AppNewIntent(Ref, Intent) error
}

// PreconditionError reports a construct/destroy pairing violation. It is
// raised with panic: callers that hit it have a bug, not a runtime condition.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("engine %s: precondition violated: %s", e.Op, e.Reason)
}

// Handle is the per-controller handle to one native engine instance.
type Handle struct {
	mu          sync.Mutex
	native      Native
	logger      *slog.Logger
	ref         Ref
	constructed bool
}

// NewHandle wraps a Native. The handle starts unconstructed.
func NewHandle(native Native, logger *slog.Logger) *Handle {
	return &Handle{
		native: native,
		logger: logging.NewComponentLogger(logger, "engine"),
	}
}

// Construct allocates the native instance. Calling it while the handle is
// live panics.
func (h *Handle) Construct() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.constructed {
		panic(&PreconditionError{Op: "construct", Reason: "handle already constructed"})
	}
	ref, err := h.native.ConstructNativeClass()
	if err != nil {
		return fmt.Errorf("construct native engine: %w", err)
	}
	h.ref = ref
	h.constructed = true
	h.logger.Debug("native engine constructed",
		logging.Uint64("ref", uint64(ref)),
		logging.String(logging.FieldEventType, "engine_constructed"))
	return nil
}

// Destroy releases the native instance. Destroying an unconstructed or
// already-destroyed handle panics. The handle stops accepting intents before
// the native instance is released.
func (h *Handle) Destroy() error {
	h.mu.Lock()
	if !h.constructed {
		h.mu.Unlock()
		panic(&PreconditionError{Op: "destroy", Reason: "handle not constructed"})
	}
	ref := h.ref
	h.ref = 0
	h.constructed = false
	h.mu.Unlock()

	if err := h.native.DestroyNativeClass(ref); err != nil {
		return fmt.Errorf("destroy native engine: %w", err)
	}
	h.logger.Debug("native engine destroyed",
		logging.Uint64("ref", uint64(ref)),
		logging.String(logging.FieldEventType, "engine_destroyed"))
	return nil
}

// NewIntent forwards intent to the engine. It reports false without error when
// the handle is not live. The native call runs outside the handle lock.
func (h *Handle) NewIntent(intent Intent) (bool, error) {
	h.mu.Lock()
	constructed, ref := h.constructed, h.ref
	h.mu.Unlock()
	if !constructed {
		h.logger.Debug("intent dropped; engine not constructed",
			logging.String("action", intent.Action),
			logging.String(logging.FieldEventType, "intent_dropped"))
		return false, nil
	}
	if err := h.native.AppNewIntent(ref, intent); err != nil {
		return false, fmt.Errorf("forward intent: %w", err)
	}
	return true, nil
}

// Constructed reports whether the handle is live.
func (h *Handle) Constructed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.constructed
}
