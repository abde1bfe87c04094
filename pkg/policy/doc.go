// Package policy vets protocol batches with Open Policy Agent (OPA) Rego
// policies before a transformation mutates the model.
//
// Every policy module defines a `deny` set. Each element is either a string
// or an object with "message", optional "name" and "severity", and any
// further detail fields. Violations with severity "error" or "critical"
// deny the run; others are reported as warnings.
//
// The input document is:
//
//	{
//	  "changeset": {
//	    "model": "luo_rudy_1991",
//	    "variables": [{"name": "...", "exists": true, "existing_kind": "free", ...}],
//	    "equations": [{"target": "...", "target_kind": "computed", "implicit": false, ...}],
//	    "units": [...],
//	    "outputs": ["tag:membrane_voltage"]
//	  },
//	  "context": {"operation": "apply", "timestamp": "..."}
//	}
//
// # Usage
//
//	pe, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := pe.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	tr := engine.New(m, engine.WithPolicy(pe))
//
// # Built-in Policies
//
//   - bound-variable: the free variable may not be redefined (error)
//   - units-preserved: a replacement keeps the replaced variable's units (error)
//   - outputs-declared: the protocol declares outputs (warning)
//   - implicit-target: bare equation targets are declared first (warning)
//
// Custom policies come from .rego files (named after the file, severity
// error), JSON policy files and JSON bundles with a "policies" list. Loader.Watch
// reloads them with fsnotify; pass Engine.ReplaceCustomPolicies as the
// reload function.
package policy
