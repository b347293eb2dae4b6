package node

import (
	"fmt"

	"flowrt.dev/flow"
)

// Finding is one entry in a ValidationReport.
type Finding struct {
	Field   string
	Message string
}

// ValidationReport is the structured per-field validation result
// (SPEC_FULL supplemented feature 5, grounded on node_input_validation
// / validate_node_input): errors block execution, warnings are logged
// and ignored.
type ValidationReport struct {
	Errors   []Finding
	Warnings []Finding
}

// Valid reports whether the report carries no errors (warnings are
// fine).
func (r ValidationReport) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationReport) addError(field, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Finding{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationReport) addWarning(field, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Finding{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateActions checks an action list as a whole, matching the
// original's _validate_action_params per-op-type rules
// (node_processor_core.py). A missing `type` or missing required
// params is an error; an unrecognized action type is only a warning.
func ValidateActions(ops []flow.ActionOp) ValidationReport {
	var report ValidationReport
	for i, op := range ops {
		field := fmt.Sprintf("actions[%d]", i)
		if op.Type == "" {
			report.addError(field+".type", "action type is required")
			continue
		}
		switch op.Type {
		case OpSetVariable:
			requireNonEmpty(&report, field, op.Variable, "variable")
			// value may legitimately be nil (clearing via set), so it's
			// not checked for presence beyond the struct carrying it.
		case OpIncrement:
			requireNonEmpty(&report, field, op.Variable, "variable")
		case OpAppend, OpRemove:
			requireNonEmpty(&report, field, op.Variable, "variable")
			if op.Value == nil {
				report.addError(field+".value", "value is required")
			}
		case OpClear:
			requireNonEmpty(&report, field, op.Variable, "variable")
		case OpCalculate:
			requireNonEmpty(&report, field, op.Expression, "expression")
			requireNonEmpty(&report, field, op.ResultVariable, "result_variable")
		case OpAPICall:
			requireNonEmpty(&report, field, op.URL, "url")
		default:
			report.addWarning(field+".type", "unknown action type %q", op.Type)
		}
	}
	return report
}

func requireNonEmpty(report *ValidationReport, field, value, name string) {
	if value == "" {
		report.addError(field+"."+name, "%s is required", name)
	}
}

// ValidateWebhook checks a webhook node's configuration before
// resolution/execution.
func ValidateWebhook(w flow.WebhookContent) ValidationReport {
	var report ValidationReport
	if w.URL == "" {
		report.addError("url", "url is required")
	}
	if w.TimeoutSecs < 0 {
		report.addError("timeout_secs", "timeout must be non-negative")
	}
	if w.StoreResponse && w.ResponseKey == "" {
		report.addWarning("response_key", "store_response is set but response_key is empty; defaulting to %q", "webhook_response")
	}
	return report
}
