package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/model"
)

// Protocol is a loaded transformation batch.
type Protocol struct {
	// Name is the protocol name, or the file base name when unset.
	Name string

	// Source is the file the protocol was loaded from.
	Source string

	// Inputs are applied in order.
	Inputs []engine.Input

	// Outputs select what the slicer keeps.
	Outputs []string
}

// CUEParser loads model and protocol documents. CUE files are compiled and
// unified with the built-in schemas; YAML and JSON files are decoded with
// yaml.v3 and validated against the same schemas. Protocol scripts (.star)
// run in a Starlark sandbox.
type CUEParser struct {
	ctx               *cue.Context
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewCUEParser creates a new parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:               ctx,
		schemaRegistry:    NewSchemaRegistry(ctx),
		starlarkEvaluator: NewStarlarkEvaluator(30 * time.Second),
		validator:         validator.New(),
	}
}

// WithStarlarkTimeout sets the protocol script timeout.
func (cp *CUEParser) WithStarlarkTimeout(timeout time.Duration) *CUEParser {
	cp.starlarkEvaluator = NewStarlarkEvaluator(timeout)
	return cp
}

// Schemas returns the parser's schema registry.
func (cp *CUEParser) Schemas() *SchemaRegistry {
	return cp.schemaRegistry
}

// LoadModel reads, validates and builds the model at path.
func LoadModel(ctx context.Context, path string) (*model.Model, error) {
	return NewCUEParser().LoadModel(ctx, path)
}

// LoadProtocol reads and validates the protocol at path.
func LoadProtocol(ctx context.Context, path string, params map[string]interface{}) (*Protocol, error) {
	return NewCUEParser().LoadProtocol(ctx, path, params)
}

// LoadModel reads, validates and builds the model at path.
func (cp *CUEParser) LoadModel(ctx context.Context, path string) (*model.Model, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	mf, err := cp.ParseModel(ctx, path, content)
	if err != nil {
		return nil, err
	}
	m, err := BuildModel(mf)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// LoadProtocol reads and validates the protocol at path. params are visible
// to protocol scripts as the params dict and ignored for other formats.
func (cp *CUEParser) LoadProtocol(ctx context.Context, path string, params map[string]interface{}) (*Protocol, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protocol %s: %w", path, err)
	}

	var pf *ProtocolFile
	if filepath.Ext(path) == ".star" {
		pf, err = cp.starlarkEvaluator.Evaluate(ctx, path, string(content), params)
		if err == nil {
			err = cp.validateStruct(path, pf)
		}
	} else {
		pf, err = cp.ParseProtocol(ctx, path, content)
	}
	if err != nil {
		return nil, err
	}

	p, err := pf.Protocol()
	if err != nil {
		return nil, fmt.Errorf("protocol %s: %w", path, err)
	}
	p.Source = path
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// ParseModel decodes and validates a model document. The format is chosen by
// the extension of filename.
func (cp *CUEParser) ParseModel(_ context.Context, filename string, content []byte) (*ModelFile, error) {
	var mf ModelFile
	if err := cp.decode(filename, content, SchemaModel, &mf); err != nil {
		return nil, err
	}
	return &mf, nil
}

// ParseProtocol decodes and validates a protocol document.
func (cp *CUEParser) ParseProtocol(_ context.Context, filename string, content []byte) (*ProtocolFile, error) {
	var pf ProtocolFile
	if err := cp.decode(filename, content, SchemaProtocol, &pf); err != nil {
		return nil, err
	}
	return &pf, nil
}

func (cp *CUEParser) decode(filename string, content []byte, schema string, out interface{}) error {
	val, err := cp.compile(filename, content)
	if err != nil {
		return err
	}

	unified, err := cp.schemaRegistry.Unify(schema, val)
	if err != nil {
		return cp.convertCUEErrors(filename, err)
	}
	if err := unified.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return cp.validateStruct(filename, out)
}

func (cp *CUEParser) compile(filename string, content []byte) (cue.Value, error) {
	switch ext := filepath.Ext(filename); ext {
	case ".cue":
		val := cp.ctx.CompileBytes(content, cue.Filename(filename))
		if err := val.Err(); err != nil {
			return cue.Value{}, cp.convertCUEErrors(filename, err)
		}
		return val, nil

	case ".yaml", ".yml", ".json":
		var doc interface{}
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return cue.Value{}, ValidationErrors{{
				File:     filename,
				Message:  fmt.Sprintf("failed to parse: %v", err),
				Severity: "error",
			}}
		}
		if doc == nil {
			return cue.Value{}, ValidationErrors{{File: filename, Message: "empty document", Severity: "error"}}
		}
		val := cp.ctx.Encode(doc)
		if err := val.Err(); err != nil {
			return cue.Value{}, cp.convertCUEErrors(filename, err)
		}
		return val, nil

	default:
		return cue.Value{}, fmt.Errorf("unsupported file type %q for %s", ext, filename)
	}
}

func (cp *CUEParser) validateStruct(filename string, v interface{}) error {
	err := cp.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validation failed: %w", err)
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %s validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %s=%s validation", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{
			File:     filename,
			Path:     fe.Namespace(),
			Message:  msg,
			Severity: "error",
		})
	}
	return out
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(filename string, err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		pos := cueerrors.Positions(e)
		file := filename
		var line, column int

		if len(pos) > 0 && pos[0].Filename() != "" {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  strings.TrimSpace(cueerrors.Details(e, nil)),
			Severity: "error",
		})
	}
	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{File: filename, Message: err.Error(), Severity: "error"})
	}

	return validationErrors
}

// BuildModel assembles a model from a decoded document, infers kinds and
// validates the result.
func BuildModel(mf *ModelFile) (*model.Model, error) {
	m := model.New(mf.Name)

	for _, ns := range mf.Namespaces {
		if _, err := m.AddNamespace(ns.Name, ns.Parent); err != nil {
			return nil, err
		}
	}
	for _, u := range mf.Units {
		if err := m.AddUnits(u.Name, u.Definition); err != nil {
			return nil, err
		}
	}
	for _, vs := range mf.Variables {
		v, err := variableFromSpec(vs)
		if err != nil {
			return nil, err
		}
		if _, err := m.AddVariable(v); err != nil {
			return nil, err
		}
	}
	for _, es := range mf.Equations {
		rhs, err := ParseExpr(es.RHS)
		if err != nil {
			return nil, fmt.Errorf("equation %s,%s: %w", es.Namespace, es.Target, err)
		}
		eq := &model.Equation{Namespace: es.Namespace, Target: es.Target, BoundVar: es.BoundVar, RHS: rhs}
		if _, err := m.AddEquation(eq); err != nil {
			return nil, err
		}
	}
	for _, cs := range mf.Connections {
		from, err := model.ParseRef(cs.From)
		if err != nil {
			return nil, err
		}
		to, err := model.ParseRef(cs.To)
		if err != nil {
			return nil, err
		}
		if _, err := m.AddConnection(from, to); err != nil {
			return nil, err
		}
	}

	m.InferKinds()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func variableFromSpec(vs VariableSpec) (*model.Variable, error) {
	kind, err := model.ParseKind(vs.Kind)
	if err != nil {
		return nil, fmt.Errorf("variable %s,%s: %w", vs.Namespace, vs.Name, err)
	}
	iface, err := parseInterface(vs.Public, vs.Private)
	if err != nil {
		return nil, fmt.Errorf("variable %s,%s: %w", vs.Namespace, vs.Name, err)
	}
	v := &model.Variable{
		Namespace: vs.Namespace,
		Name:      vs.Name,
		Units:     vs.Units,
		Kind:      kind,
		Interface: iface,
		Tag:       vs.Tag,
	}
	if vs.Initial != nil {
		v.SetInitial(*vs.Initial)
	}
	return v, nil
}

func parseInterface(public, private string) (model.Interface, error) {
	pub, err := model.ParseDirection(public)
	if err != nil {
		return model.Interface{}, err
	}
	priv, err := model.ParseDirection(private)
	if err != nil {
		return model.Interface{}, err
	}
	return model.Interface{Public: pub, Private: priv}, nil
}

// Protocol converts the decoded document into engine inputs.
func (pf *ProtocolFile) Protocol() (*Protocol, error) {
	p := &Protocol{Name: pf.Name, Outputs: pf.Outputs}

	for i, in := range pf.Inputs {
		input, err := in.toInput()
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		p.Inputs = append(p.Inputs, input)
	}
	return p, nil
}

func (in InputSpec) toInput() (engine.Input, error) {
	set := 0
	for _, present := range []bool{in.Variable != nil, in.Equation != nil, in.Units != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("expected exactly one of variable, equation or units, got %d", set)
	}

	switch {
	case in.Variable != nil:
		d := in.Variable
		iface, err := parseInterface(d.Public, d.Private)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", d.Name, err)
		}
		return &engine.VariableDecl{
			Name:      d.Name,
			Units:     d.Units,
			Initial:   d.Initial,
			Interface: iface,
			Tag:       d.Tag,
		}, nil

	case in.Equation != nil:
		e := in.Equation
		rhs, err := ParseExpr(e.RHS)
		if err != nil {
			return nil, fmt.Errorf("equation %s: %w", e.Target, err)
		}
		return &engine.EquationDecl{Target: e.Target, BoundVar: e.BoundVar, RHS: rhs}, nil

	default:
		return &engine.UnitsDecl{Name: in.Units.Name, Definition: in.Units.Definition}, nil
	}
}
