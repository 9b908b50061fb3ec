package routine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

const defaultWaitTimeout = 10 * time.Second

// Options tunes an Interpreter.
type Options struct {
	// WaitTimeout bounds waitFor actions.
	WaitTimeout time.Duration
	// BeforeAction runs ahead of every action, typically a small random pause.
	BeforeAction func(ctx context.Context) error
	Logger       *zap.Logger
}

// Interpreter executes routines against a live page.
type Interpreter struct {
	opts   Options
	logger *zap.Logger
}

// NewInterpreter builds an Interpreter, filling unset options with defaults.
func NewInterpreter(opts Options) *Interpreter {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{opts: opts, logger: logger}
}

// Execute runs r with default options.
func Execute(ctx context.Context, page webpage.Page, r Routine) (Result, error) {
	return NewInterpreter(Options{}).Execute(ctx, page, r)
}

// Execute runs each step in order and stops at the first failing step. The
// returned error is always a *RoutineError.
func (i *Interpreter) Execute(ctx context.Context, page webpage.Page, r Routine) (Result, error) {
	var values []Value
	for stepNum, step := range r {
		stepValues, err := i.ExecuteStep(ctx, page, step)
		if err != nil {
			partial := append(values, partialFrom(err)...)
			i.logger.Debug("routine step failed",
				zap.Int("step", stepNum),
				zap.Int("partial_values", len(partial)),
				zap.Error(err),
			)
			return Result{}, wrapRoutineError(stepNum, partial, err)
		}
		values = append(values, stepValues...)
	}
	return Result{Values: values}, nil
}

// ExecuteStep runs the step's actions and then its data instructions.
func (i *Interpreter) ExecuteStep(ctx context.Context, page webpage.Page, step Step) ([]Value, error) {
	if err := i.ExecuteActions(ctx, page, step.Actions); err != nil {
		return nil, err
	}
	return i.ExecuteData(ctx, page, step.Data)
}

// ExecuteActions runs actions in order, stopping at the first failure.
func (i *Interpreter) ExecuteActions(ctx context.Context, page webpage.Page, actions []ActionInstruction) error {
	for idx := range actions {
		action := actions[idx]
		if i.opts.BeforeAction != nil {
			if err := i.opts.BeforeAction(ctx); err != nil {
				return &InstructionError{Kind: ActionInsnFailed, Action: &action, Cause: err}
			}
		}
		if err := i.runAction(ctx, page, action); err != nil {
			return err
		}
	}
	return nil
}

func (i *Interpreter) runAction(ctx context.Context, page webpage.Page, action ActionInstruction) error {
	switch action.Type {
	case ActionClick:
		if err := page.Click(ctx, action.Selector.Text); err != nil {
			return &InstructionError{Kind: ActionInsnUnsuccessful, Action: &action, Cause: err}
		}
	case ActionWaitFor:
		var err error
		switch action.Selector.Type {
		case SelectorXPath:
			err = page.WaitForSelectorXPath(ctx, action.Selector.Text, i.opts.WaitTimeout)
		default:
			err = page.WaitForSelectorCSS(ctx, action.Selector.Text, i.opts.WaitTimeout)
		}
		if err != nil {
			return &InstructionError{Kind: ActionInsnUnsuccessful, Action: &action, Cause: err}
		}
	default:
		return &InstructionError{
			Kind:   ActionInsnFailed,
			Action: &action,
			Cause:  fmt.Errorf("%w: unknown action %q", ErrInvalidInstruction, action.Type),
		}
	}
	return nil
}

// ExecuteData extracts each instruction in order. A required instruction that
// yields no data fails the step with DataTargetInvalidResult.
func (i *Interpreter) ExecuteData(ctx context.Context, page webpage.Page, insns []DataInstruction) ([]Value, error) {
	values := make([]Value, 0, len(insns))
	for idx := range insns {
		insn := insns[idx]
		value, err := Extract(ctx, page, insn)
		if err != nil {
			return nil, &InstructionError{Kind: DataInsnFailed, Data: &insn, PartialData: values, Cause: err}
		}
		if insn.Required && !value.HasData() {
			return nil, &InstructionError{Kind: DataTargetInvalidResult, Data: &insn, PartialData: values}
		}
		values = append(values, value)
	}
	return values, nil
}

func partialFrom(err error) []Value {
	var insnErr *InstructionError
	if errors.As(err, &insnErr) {
		return insnErr.PartialData
	}
	return nil
}

func wrapRoutineError(stepNum int, partial []Value, err error) *RoutineError {
	kind := RoutineUnknown
	var insnErr *InstructionError
	if errors.As(err, &insnErr) {
		kind = RoutineInstructionFailed
	}
	return &RoutineError{Kind: kind, StepNum: stepNum, PartialData: partial, Cause: err}
}
