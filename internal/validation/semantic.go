package validation

import (
	"fmt"
	"time"

	"github.com/reputul/drip/pkg/schema"
)

// validateSemantic performs checks JSON Schema cannot express: unique action
// names, registered action types, a loadable timezone and a consistent
// condition set.
func validateSemantic(wf *schema.Workflow, lookup ActionLookup) []string {
	var violations []string

	seen := make(map[string]struct{}, len(wf.Actions))
	for i, a := range wf.Actions {
		path := fmt.Sprintf("/actions/%d", i)
		if _, dup := seen[a.Name]; dup {
			violations = append(violations, fmt.Sprintf("%s/name: duplicate action name %q", path, a.Name))
		}
		seen[a.Name] = struct{}{}

		if lookup != nil && !lookup.Has(a.ActionType()) {
			violations = append(violations, fmt.Sprintf("%s/type: action %q not registered", path, a.ActionType()))
		}
	}

	if tz := wf.Delay.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			violations = append(violations, fmt.Sprintf("/delay/timezone: unknown timezone %q", tz))
		}
	}

	if c := wf.Conditions; c != nil && c.Expression == "" && len(c.Rules) == 0 {
		violations = append(violations, "/conditions: needs an expression or at least one rule")
	}

	return violations
}
