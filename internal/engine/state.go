package engine

import (
	"leanflow/internal/config"
	"leanflow/internal/domain"
	"leanflow/internal/events"
	"leanflow/internal/mutlog"
)

// State is the unit of persistence: the full commit DAG, the work-item
// table and the audit trail serialized together.
type State struct {
	Items      []domain.WorkItem  `json:"items"`
	Weights    map[string]float64 `json:"weights,omitempty"`
	CycleTrend []float64          `json:"cycle_trend,omitempty"`
	FlowTrend  []float64          `json:"flow_trend,omitempty"`
	Log        mutlog.State       `json:"log"`
	Events     []events.Entry     `json:"events,omitempty"`
}

// State captures a snapshot of the whole engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		Items:      make([]domain.WorkItem, 0, len(e.order)),
		Weights:    e.scorer.Weights(),
		CycleTrend: e.metrics.CycleTimeTrend(),
		FlowTrend:  e.metrics.FlowEfficiencyTrend(),
		Log:        e.Log.State(),
		Events:     e.Events.All(),
	}
	for _, id := range e.order {
		st.Items = append(st.Items, *e.items[id])
	}
	return st
}

// Restore builds an engine from a snapshot.
func Restore(cfg *config.Config, st State) (*Engine, error) {
	e := New(cfg)
	log, err := mutlog.Restore(st.Log)
	if err != nil {
		return nil, err
	}
	e.Log = log
	e.Log.Now = e.now
	for i := range st.Items {
		item := st.Items[i]
		e.items[item.ID] = &item
		e.order = append(e.order, item.ID)
	}
	for name, w := range st.Weights {
		e.scorer.weights[name] = w
	}
	for _, v := range st.CycleTrend {
		e.metrics.cycleTrend.Push(v)
	}
	for _, v := range st.FlowTrend {
		e.metrics.flowTrend.Push(v)
	}
	e.Events.Restore(st.Events)
	return e, nil
}
