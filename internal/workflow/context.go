package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// Context состояние одного воспроизведения запуска.
type Context struct {
	ctx    context.Context
	engine *Engine
	run    *models.WorkflowRun
	steps  map[string]models.WorkflowStep
}

func newContext(ctx context.Context, e *Engine, run *models.WorkflowRun, steps []models.WorkflowStep) *Context {
	byName := make(map[string]models.WorkflowStep, len(steps))
	for _, st := range steps {
		byName[st.Name] = st
	}
	return &Context{ctx: ctx, engine: e, run: run, steps: byName}
}

// Context возвращает контекст запроса, в котором идет воспроизведение.
func (wf *Context) Context() context.Context {
	return wf.ctx
}

// RunID идентификатор запуска.
func (wf *Context) RunID() string {
	return wf.run.ID
}

// Payload декодирует тело запуска в v.
func (wf *Context) Payload(v any) error {
	const op = "workflow.Payload"
	if err := json.Unmarshal(wf.run.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Now текущее время по часам движка.
func (wf *Context) Now() time.Time {
	return wf.engine.now()
}

// Run выполняет шаг name один раз. Результат сохраняется в JSON,
// при следующих воспроизведениях fn не вызывается, а результат берется из чекпоинта.
func Run[T any](wf *Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	const op = "workflow.Run"
	var out T
	if st, ok := wf.steps[name]; ok {
		if len(st.Output) > 0 {
			if err := json.Unmarshal(st.Output, &out); err != nil {
				return out, fmt.Errorf("%s: step %q: %w", op, name, err)
			}
		}
		return out, nil
	}

	out, err := fn(wf.ctx)
	if err != nil {
		return out, fmt.Errorf("%s: step %q: %w", op, name, err)
	}

	body, err := json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("%s: step %q: %w", op, name, err)
	}
	step := models.WorkflowStep{
		RunID:       wf.run.ID,
		Name:        name,
		Output:      body,
		CompletedAt: wf.Now(),
	}
	if err := wf.engine.store.SaveStep(wf.ctx, step); err != nil {
		return out, fmt.Errorf("%s: step %q: %w", op, name, err)
	}
	wf.steps[name] = step
	return out, nil
}

// SleepUntil приостанавливает запуск до момента at.
// При первом вызове время пробуждения сохраняется и запуск кладется в очередь отложенных,
// после чего возвращается ErrSuspended. При воспроизведении после пробуждения возвращает nil.
func (wf *Context) SleepUntil(name string, at time.Time) error {
	const op = "workflow.SleepUntil"
	now := wf.Now()

	if st, ok := wf.steps[name]; ok && st.WakeAt != nil {
		if !now.Before(*st.WakeAt) {
			return nil
		}
		// ранняя доставка, откладываем снова
		if err := wf.engine.delays.Schedule(wf.ctx, wf.run.ID, *st.WakeAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return ErrSuspended
	}

	wake := at.UTC()
	step := models.WorkflowStep{
		RunID:       wf.run.ID,
		Name:        name,
		Output:      []byte("null"),
		WakeAt:      &wake,
		CompletedAt: now,
	}
	if err := wf.engine.store.SaveStep(wf.ctx, step); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	wf.steps[name] = step

	if !now.Before(wake) {
		return nil
	}
	if err := wf.engine.delays.Schedule(wf.ctx, wf.run.ID, wake); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return ErrSuspended
}
