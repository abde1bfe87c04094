// Package config loads model and protocol documents for cellxform.
//
// # Overview
//
// Models and protocols are written in CUE, YAML or JSON. Every document is
// unified with a built-in CUE schema (#Model or #Protocol) before it is
// decoded, so CUE, YAML and JSON files report the same errors with file and
// path information. Protocols may also be Starlark scripts (.star) that
// declare their batch procedurally.
//
// # Components
//
// CUEParser: compiles documents, validates them against the SchemaRegistry
// and go-playground/validator struct tags, and converts them into a
// *model.Model or a Protocol of engine inputs.
//
// SchemaRegistry: holds the compiled schemas. Schemas and documents share one
// cue.Context.
//
// StarlarkEvaluator: runs protocol scripts with a timeout. Scripts call
// variable(), equation(), units() and output().
//
// ParseExpr: parses equation right-hand sides with the Starlark expression
// grammar. Dotted names (membrane.V) are qualified references, ^ and pow()
// are powers, and units(0.5, "mV") attaches units to a literal.
//
// # Model documents
//
//	name: "luo_rudy_1991"
//	namespaces: [
//		{name: "environment"},
//		{name: "membrane"},
//	]
//	variables: [
//		{namespace: "environment", name: "time", units: "ms", public: "out", kind: "free"},
//		{namespace: "membrane", name: "time", units: "ms", public: "in"},
//		{namespace: "membrane", name: "V", units: "mV", initial: -84.5, public: "out"},
//	]
//	equations: [
//		{namespace: "membrane", target: "V", bvar: "time", rhs: "-(i_Na + i_K) / C"},
//	]
//	connections: [
//		{from: "environment,time", to: "membrane,time"},
//	]
//
// # Protocol documents
//
//	inputs: [
//		{variable: {name: "amplitude", units: "uA_per_cm2", initial: -25.5}},
//		{equation: {target: "membrane,i_Stim", rhs: "amplitude"}},
//	]
//	outputs: ["tag:membrane_voltage"]
//
// # Usage Example
//
//	parser := config.NewCUEParser()
//
//	m, err := parser.LoadModel(ctx, "luo_rudy_1991.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := parser.LoadProtocol(ctx, "clamp.yaml", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t := engine.New(m)
//	t.Inputs, t.Outputs = p.Inputs, p.Outputs
//	report, err := t.Apply(ctx)
package config
