package routine

import (
	"fmt"
	"strings"
)

// InstructionErrorKind classifies instruction failures.
type InstructionErrorKind string

// Instruction failure kinds.
const (
	DataInsnFailed          InstructionErrorKind = "data instruction failed to execute"
	DataTargetInvalidResult InstructionErrorKind = "data target resulted in an invalid output"
	ActionInsnFailed        InstructionErrorKind = "action instruction failed to execute"
	ActionInsnUnsuccessful  InstructionErrorKind = "action instruction was executed but unsuccessful"
)

// InstructionError reports the first instruction of a step that failed.
// PartialData holds the values extracted earlier in the same step.
type InstructionError struct {
	Kind        InstructionErrorKind
	Data        *DataInstruction
	Action      *ActionInstruction
	PartialData []Value
	Cause       error
}

func (e *InstructionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch {
	case e.Data != nil:
		fmt.Fprintf(&b, " | data %q (%s)", e.Data.Label, e.Data.Type)
	case e.Action != nil:
		fmt.Fprintf(&b, " | action %s %q", e.Action.Type, e.Action.Selector.Text)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " | caused by: %v", e.Cause)
	}
	return b.String()
}

func (e *InstructionError) Unwrap() error { return e.Cause }

// RoutineErrorKind classifies routine failures.
type RoutineErrorKind string

// Routine failure kinds.
const (
	RoutineUnknown           RoutineErrorKind = "an unknown error occurred in the webpage routine"
	RoutineInstructionFailed RoutineErrorKind = "an instruction failed to execute properly in the webpage routine"
)

// RoutineError aborts a routine. PartialData holds every value extracted
// before the failure, including the failing step's earlier instructions.
type RoutineError struct {
	Kind        RoutineErrorKind
	StepNum     int
	PartialData []Value
	Cause       error
}

func (e *RoutineError) Error() string {
	msg := fmt.Sprintf("%s | step %d | %d partial values", e.Kind, e.StepNum, len(e.PartialData))
	if e.Cause != nil {
		msg += " | caused by: " + e.Cause.Error()
	}
	return msg
}

func (e *RoutineError) Unwrap() error { return e.Cause }
