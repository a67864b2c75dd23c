package engine

import (
	"context"
	"sort"

	"lottery_engine/internal/model"
)

func DefaultNotifySettings() model.NotifySettings {
	return model.NotifySettings{
		SummaryWindowSeconds: 20,
	}
}

// normalizeNotifySettings clamps the summary window to [-1, 600]. -1 sends
// every outcome on its own.
func normalizeNotifySettings(in model.NotifySettings) model.NotifySettings {
	out := in
	if out.SummaryWindowSeconds == 0 {
		out.SummaryWindowSeconds = 20
	}
	if out.SummaryWindowSeconds < 0 {
		out.SummaryWindowSeconds = -1
	}
	if out.SummaryWindowSeconds > 600 {
		out.SummaryWindowSeconds = 600
	}
	return out
}

func (e *Engine) NotifySettings(ctx context.Context) (model.NotifySettings, error) {
	if e == nil || e.store == nil {
		return DefaultNotifySettings(), nil
	}
	v, ok, err := e.store.GetNotifySettings(ctx)
	if err != nil {
		return model.NotifySettings{}, err
	}
	if !ok {
		return DefaultNotifySettings(), nil
	}
	return normalizeNotifySettings(v), nil
}

func (e *Engine) SetNotifySettings(ctx context.Context, next model.NotifySettings) (model.NotifySettings, error) {
	next = normalizeNotifySettings(next)
	if e == nil || e.store == nil {
		return next, nil
	}
	return e.store.UpsertNotifySettings(ctx, next)
}

func sortStates(states []model.AccountState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Email < states[j].Email
	})
}
