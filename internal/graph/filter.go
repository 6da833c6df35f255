package graph

import "log/slog"

// LogLevel mirrors a four-level taxonomy (Error, Warning, Info, Debug).
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarning
	LogInfo
	LogDebug
)

// Host is the interface a Filter uses to log and control its own activation.
type Host interface {
	// Log emits a diagnostic at the given level.
	Log(level LogLevel, msg string, args ...any)
	// Activate(false) instructs the runtime to stop scheduling process()
	// until explicitly re-enabled or data arrives; Activate(true) re-enables it.
	Activate(active bool)
}

// Filter is the user-defined processing node contract. A Filter
// declares its Input/Output pins and implements Process/Flush; the runtime
// supplies a Host at construction and drives Process repeatedly while the
// filter is active.
type Filter interface {
	// NumInputs returns the number of Input pins.
	NumInputs() int
	// Input returns the i'th Input pin.
	Input(i int) *Input
	// NumOutputs returns the number of Output pins.
	NumOutputs() int
	// Output returns the i'th Output pin.
	Output(i int) *Output

	// Process is called repeatedly by the runtime while the filter is active.
	// A single-input filter's typical implementation pops one Frame and
	// handles it; a multi-input filter (the Dasher, the TimeRectifier)
	// implements its own fan-in joining logic here.
	Process() error

	// Flush drains internal state and emits any queued outputs. Flush must
	// be idempotent: calling it twice must not re-emit anything or error.
	Flush() error
}

// Name is an optional interface a Filter may implement to report a stable
// name for logging/introspection; filters that don't implement it are
// identified by their registered factory name instead.
type Name interface {
	Name() string
}

// hostImpl is the Pipeline's concrete Host handed to each filter.
type hostImpl struct {
	filterName string
	logger *slog.Logger
	pipeline *Pipeline
	node *node
}

func (h *hostImpl) Log(level LogLevel, msg string, args ...any) {
	attrs := append([]any{slog.String("filter", h.filterName)}, args...)
	switch level {
	case LogError:
		h.logger.Error(msg, attrs...)
	case LogWarning:
		h.logger.Warn(msg, attrs...)
	case LogDebug:
		h.logger.Debug(msg, attrs...)
	default:
		h.logger.Info(msg, attrs...)
	}
}

func (h *hostImpl) Activate(active bool) {
	h.node.setActive(active)
}
