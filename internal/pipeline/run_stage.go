package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/vinayprograms/auditagent/internal/executor"
	"github.com/vinayprograms/auditagent/internal/extract"
	"github.com/vinayprograms/auditagent/internal/session"
	"github.com/vinayprograms/auditagent/internal/state"
)

// pendingWrite is one computed state update.
type pendingWrite struct {
	key   OutputKey
	value interface{}
	items []interface{}
}

// runStage executes one stage. The returned error is non-nil only for model
// and context failures, which abort the attempt. Everything else is recorded
// on the result and the stage's keys keep their previous values.
func (c *Controller) runStage(ctx context.Context, exec *executor.Executor, st *state.Store, def StageDefinition, attempt int, recorder *session.Recorder) (res StageResult, err error) {
	start := time.Now()
	res = StageResult{Name: def.Name, Attempt: attempt, Strategy: string(extract.StrategyNone)}
	ctx, span := c.startStageSpan(ctx, def.Name, attempt)
	recorder.Record(session.Event{Type: session.EventStageStart, Stage: def.Name, Attempt: attempt})

	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
			c.logger.Error("stage panicked", map[string]interface{}{
				"stage": def.Name,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			err = nil
		}
		res.Duration = time.Since(start)
		if res.Error != "" && err == nil {
			c.logger.Error("stage failed", map[string]interface{}{
				"stage":   def.Name,
				"attempt": attempt,
				"error":   res.Error,
			})
		}
		msg := res.Error
		if err != nil {
			msg = err.Error()
		}
		ok := msg == ""
		recorder.Record(session.Event{
			Type:       session.EventStageEnd,
			Stage:      def.Name,
			Attempt:    attempt,
			Success:    &ok,
			Error:      msg,
			DurationMs: res.Duration.Milliseconds(),
			Meta: &session.EventMeta{
				Iterations: res.Iterations,
				Exhausted:  res.Exhausted,
				ToolCalls:  res.ToolCalls,
				TokensIn:   res.InputTokens,
				TokensOut:  res.OutputTokens,
				Keys:       res.Keys,
				Findings:   res.Findings,
			},
		})
		c.endStageSpan(span, res, err)
	}()

	prompt, perr := def.BuildUserPrompt(PromptContext{State: st, TokenBudget: c.opts.PromptTokenBudget})
	if perr != nil {
		res.Error = fmt.Sprintf("build prompt: %v", perr)
		return res, nil
	}

	maxIter := def.MaxIterations
	if maxIter <= 0 {
		maxIter = c.opts.MaxIterations
	}
	out, lerr := exec.ForStage(def.Name, attempt).Run(ctx, def.SystemInstructions, prompt, def.ToolsEnabled, maxIter)
	if out != nil {
		res.Iterations = out.Iterations
		res.ToolCalls = out.ToolCalls
		res.Exhausted = out.Exhausted
		res.InputTokens = out.InputTokens
		res.OutputTokens = out.OutputTokens
	}
	if lerr != nil {
		if errors.Is(lerr, executor.ErrModel) || ctx.Err() != nil {
			return res, lerr
		}
		res.Error = lerr.Error()
		return res, nil
	}

	ext := c.extractor.ExtractResult(out.Output)
	res.Strategy = string(ext.Strategy)
	res.Repaired = ext.Repaired
	recorder.Record(session.Event{
		Type:    session.EventExtract,
		Stage:   def.Name,
		Attempt: attempt,
		Meta: &session.EventMeta{
			Strategy: string(ext.Strategy),
			Repaired: ext.Repaired,
			Keys:     objectKeys(ext.Object),
		},
	})

	writes, werr := c.planWrites(def, ext.Object)
	if werr != nil {
		res.Error = werr.Error()
		return res, nil
	}
	if aerr := applyWrites(st, writes, &res); aerr != nil {
		res.Error = aerr.Error()
		return res, nil
	}

	if def.AfterWrite != nil {
		if herr := def.AfterWrite(st); herr != nil {
			res.Error = fmt.Sprintf("after write: %v", herr)
		}
	}

	c.logger.Info("stage complete", map[string]interface{}{
		"stage":      def.Name,
		"strategy":   res.Strategy,
		"iterations": res.Iterations,
		"tool_calls": res.ToolCalls,
		"keys":       res.Keys,
	})
	return res, nil
}

// planWrites computes every output value before anything touches state, so a
// bad value leaves all of the stage's keys untouched.
func (c *Controller) planWrites(def StageDefinition, obj map[string]interface{}) ([]pendingWrite, error) {
	var writes []pendingWrite
	for _, k := range def.OutputKeys {
		var value interface{} = obj
		if k.Field != "" {
			v, ok := obj[k.Field]
			if !ok || v == nil {
				continue
			}
			value = v
		}

		switch k.Kind {
		case state.KindObject:
			m, ok := value.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("output %q: expected object, got %T", k.Key, value)
			}
			writes = append(writes, pendingWrite{key: k, value: m})
		case state.KindList:
			list, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("output %q: expected list, got %T", k.Key, value)
			}
			items := make([]interface{}, 0, len(list))
			for i, item := range list {
				if k.Normalize != nil {
					norm, err := k.Normalize(item)
					if err != nil {
						c.logger.Warn("dropping invalid item", map[string]interface{}{
							"stage": def.Name,
							"key":   k.Key,
							"index": i,
							"error": err.Error(),
						})
						continue
					}
					item = norm
				}
				items = append(items, item)
			}
			writes = append(writes, pendingWrite{key: k, items: items})
		}
	}
	return writes, nil
}

func applyWrites(st *state.Store, writes []pendingWrite, res *StageResult) error {
	for _, w := range writes {
		switch w.key.Kind {
		case state.KindList:
			if _, err := st.Append(w.key.Key, w.items...); err != nil {
				return err
			}
			res.Findings += len(w.items)
		default:
			if err := st.Replace(w.key.Key, w.value); err != nil {
				return err
			}
		}
		res.Keys = append(res.Keys, w.key.Key)
	}
	return nil
}

func objectKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
