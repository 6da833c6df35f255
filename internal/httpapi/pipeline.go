// Package httpapi exposes read-only REST introspection over a running
// Pipeline: registered filters, per-pin queue/allocator occupancy, and
// scheduling snapshots for filters that publish one.
package httpapi

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/streamforge/internal/dasher"
	"github.com/jmylchreest/streamforge/internal/graph"
	"github.com/jmylchreest/streamforge/internal/timerectifier"
)

// PipelineHandler serves introspection routes over a live Pipeline.
type PipelineHandler struct {
	pipeline *graph.Pipeline
}

// NewPipelineHandler creates a handler over the given Pipeline. The Pipeline
// may still be starting; routes report whatever state is current.
func NewPipelineHandler(pipeline *graph.Pipeline) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline}
}

// Register registers the pipeline introspection routes with the API.
func (h *PipelineHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPipelineFilters",
		Method:      "GET",
		Path:        "/pipeline/filters",
		Summary:     "List pipeline filters",
		Description: "Returns every filter registered with the pipeline, its pin counts, and its activation state.",
		Tags:        []string{"Pipeline"},
	}, h.ListFilters)

	huma.Register(api, huma.Operation{
		OperationID: "getPipelineFilterPins",
		Method:      "GET",
		Path:        "/pipeline/filters/{name}/pins",
		Summary:     "Get a filter's pin occupancy",
		Description: "Returns per-input queue occupancy and per-output allocator/connection stats for the named filter.",
		Tags:        []string{"Pipeline"},
	}, h.GetFilterPins)

	huma.Register(api, huma.Operation{
		OperationID: "getPipelineFilterState",
		Method:      "GET",
		Path:        "/pipeline/filters/{name}/state",
		Summary:     "Get a filter's scheduling snapshot",
		Description: "Returns the scheduling snapshot for filters that publish one (Dasher, TimeRectifier). Other filters report only their pin counts.",
		Tags:        []string{"Pipeline"},
	}, h.GetFilterState)
}

// ListFiltersInput is the input for listing pipeline filters.
type ListFiltersInput struct{}

// FilterSummary describes one registered filter.
type FilterSummary struct {
	Name string `json:"name"`
	NumInputs int `json:"num_inputs"`
	NumOutputs int `json:"num_outputs"`
	IsSource bool `json:"is_source"`
	IsSink bool `json:"is_sink"`
	Active bool `json:"active"`
}

// ListFiltersOutput is the output for listing pipeline filters.
type ListFiltersOutput struct {
	Body struct {
		PipelineID string          `json:"pipeline_id"`
		Filters    []FilterSummary `json:"filters"`
	}
}

// ListFilters returns every filter registered with the pipeline.
func (h *PipelineHandler) ListFilters(ctx context.Context, input *ListFiltersInput) (*ListFiltersOutput, error) {
	nodes := h.pipeline.Nodes()
	out := &ListFiltersOutput{}
	out.Body.PipelineID = h.pipeline.ID()
	out.Body.Filters = make([]FilterSummary, len(nodes))
	for i, n := range nodes {
		out.Body.Filters[i] = FilterSummary{
			Name: n.Name,
			NumInputs: n.NumInputs,
			NumOutputs: n.NumOutputs,
			IsSource: n.IsSource,
			IsSink: n.IsSink,
			Active: n.Active,
		}
	}
	return out, nil
}

// FilterPinsInput identifies the filter whose pins are being inspected.
type FilterPinsInput struct {
	Name string `path:"name" doc:"Registered filter name"`
}

// InputPinStats reports one Input pin's queue occupancy.
type InputPinStats struct {
	Index int `json:"index"`
	QueueLen int `json:"queue_len"`
	Capacity int `json:"capacity"`
	ConnectionCount int `json:"connection_count"`
}

// OutputPinStats reports one Output pin's allocator and connection state.
type OutputPinStats struct {
	Index int `json:"index"`
	ConnectionCount int `json:"connection_count"`
	AllocatorIssued int64 `json:"allocator_issued"`
	AllocatorFreed int64 `json:"allocator_freed"`
	AllocatorOutstanding int `json:"allocator_outstanding"`
	AllocatorCapacity int `json:"allocator_capacity"`
}

// FilterPinsOutput is the output for a filter's pin occupancy.
type FilterPinsOutput struct {
	Body struct {
		Name string `json:"name"`
		Inputs []InputPinStats `json:"inputs"`
		Outputs []OutputPinStats `json:"outputs"`
	}
}

// GetFilterPins returns per-pin queue and allocator occupancy for the named filter.
func (h *PipelineHandler) GetFilterPins(ctx context.Context, input *FilterPinsInput) (*FilterPinsOutput, error) {
	f := h.pipeline.Filter(input.Name)
	if f == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no filter named %q", input.Name))
	}

	out := &FilterPinsOutput{}
	out.Body.Name = input.Name
	out.Body.Inputs = make([]InputPinStats, f.NumInputs())
	for i := 0; i < f.NumInputs(); i++ {
		in := f.Input(i)
		out.Body.Inputs[i] = InputPinStats{
			Index: i,
			QueueLen: in.QueueLen(),
			Capacity: in.Capacity(),
			ConnectionCount: in.ConnectionCount(),
		}
	}

	out.Body.Outputs = make([]OutputPinStats, f.NumOutputs())
	for i := 0; i < f.NumOutputs(); i++ {
		o := f.Output(i)
		stats := o.AllocatorStats()
		out.Body.Outputs[i] = OutputPinStats{
			Index: i,
			ConnectionCount: o.ConnectionCount(),
			AllocatorIssued: stats.Issued,
			AllocatorFreed: stats.Freed,
			AllocatorOutstanding: stats.Outstanding,
			AllocatorCapacity: stats.Capacity,
		}
	}
	return out, nil
}

// FilterStateInput identifies the filter whose scheduling state is being inspected.
type FilterStateInput struct {
	Name string `path:"name" doc:"Registered filter name"`
}

// DasherState mirrors dasher.Snapshot for the introspection API.
type DasherState struct {
	TotalDurationInMs int64 `json:"total_duration_in_ms"`
	PeriodIndex int `json:"period_index"`
	ManifestSequence int64 `json:"manifest_sequence"`
	EOSReached bool `json:"eos_reached"`
	RepresentationCount int `json:"representation_count"`
}

// TimeRectifierStreamState mirrors timerectifier.StreamSnapshot.
type TimeRectifierStreamState struct {
	Kind string `json:"kind"`
	BufferedEntries int `json:"buffered_entries"`
	NumTicks int64 `json:"num_ticks"`
	SamplesEmitted int64 `json:"samples_emitted"`
}

// TimeRectifierState mirrors timerectifier.Snapshot for the introspection API.
type TimeRectifierState struct {
	VideoIndex int `json:"video_index"`
	SchedulerRunning bool `json:"scheduler_running"`
	Flushing bool `json:"flushing"`
	Stopped bool `json:"stopped"`
	LastError string `json:"last_error,omitempty"`
	Streams []TimeRectifierStreamState `json:"streams"`
}

// FilterStateOutput is the output for a filter's scheduling snapshot.
type FilterStateOutput struct {
	Body struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
		Dasher *DasherState `json:"dasher,omitempty"`
		TimeRectifier *TimeRectifierState `json:"time_rectifier,omitempty"`
	}
}

// GetFilterState returns the scheduling snapshot for the named filter, where
// one exists. Filters with no published snapshot report kind "generic" and
// no state body.
func (h *PipelineHandler) GetFilterState(ctx context.Context, input *FilterStateInput) (*FilterStateOutput, error) {
	f := h.pipeline.Filter(input.Name)
	if f == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no filter named %q", input.Name))
	}

	out := &FilterStateOutput{}
	out.Body.Name = input.Name

	switch v := f.(type) {
	case *dasher.Dasher:
		s := v.Snapshot()
		out.Body.Kind = "dasher"
		out.Body.Dasher = &DasherState{
			TotalDurationInMs: s.TotalDurationInMs,
			PeriodIndex: s.PeriodIndex,
			ManifestSequence: s.ManifestSequence,
			EOSReached: s.EOSReached,
			RepresentationCount: s.RepresentationCount,
		}
	case *timerectifier.TimeRectifier:
		s := v.Snapshot()
		out.Body.Kind = "time_rectifier"
		streams := make([]TimeRectifierStreamState, len(s.Streams))
		for i, st := range s.Streams {
			streams[i] = TimeRectifierStreamState{
				Kind: st.Kind.String(),
				BufferedEntries: st.BufferedEntries,
				NumTicks: st.NumTicks,
				SamplesEmitted: st.SamplesEmitted,
			}
		}
		lastErr := ""
		if s.LastError != nil {
			lastErr = s.LastError.Error()
		}
		out.Body.TimeRectifier = &TimeRectifierState{
			VideoIndex: s.VideoIndex,
			SchedulerRunning: s.SchedulerRunning,
			Flushing: s.Flushing,
			Stopped: s.Stopped,
			LastError: lastErr,
			Streams: streams,
		}
	default:
		out.Body.Kind = "generic"
	}
	return out, nil
}
