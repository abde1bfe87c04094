package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
)

// Schema names registered by default.
const (
	SchemaModel    = "model"
	SchemaProtocol = "protocol"
)

// SchemaRegistry manages CUE schemas for validation. Every schema is compiled
// in the registry's context, and values unified with a schema must come from
// the same context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in schemas.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	if err := sr.RegisterSchema(SchemaModel, builtinModelSchema, "#Model"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaProtocol, builtinProtocolSchema, "#Protocol"); err != nil {
		panic(err)
	}
}

// RegisterSchema compiles source and registers the definition named by def
// under name. An empty def registers the whole value.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, def)
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema encodes data and validates it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

const builtinCommonSchema = `
#Identifier: string & =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Qualified: string & =~"^[A-Za-z_][A-Za-z0-9_]*,[A-Za-z_][A-Za-z0-9_]*$"

#Direction: "none" | "in" | "out"

#Units: {
	name:       #Identifier
	definition: string & !=""
}
`

const builtinModelSchema = builtinCommonSchema + `
#Namespace: {
	name:    #Identifier
	parent?: #Identifier
}

#Variable: {
	namespace: #Identifier
	name:      #Identifier
	units?:    string
	initial?:  number
	public?:   #Direction
	private?:  #Direction
	tag?:      #Identifier

	// Usually inferred from equations and connections.
	kind?: "state" | "computed" | "constant" | "mapped" | "free" | "unknown"
}

#Equation: {
	namespace: #Identifier
	target:    #Identifier
	bvar?:     #Identifier
	rhs:       string & !=""
}

#Connection: {
	from: #Qualified
	to:   #Qualified
}

#Model: {
	name: string & !=""
	namespaces: [#Namespace, ...#Namespace]
	units?: [...#Units]
	variables: [...#Variable]
	equations?: [...#Equation]
	connections?: [...#Connection]
}
`

const builtinProtocolSchema = builtinCommonSchema + `
// Names are qualified, tag:<label> or bare.
#Name: string & =~"^(tag:[A-Za-z_][A-Za-z0-9_]*|([A-Za-z_][A-Za-z0-9_]*,)?[A-Za-z_][A-Za-z0-9_]*)$"

#Decl: {
	name:     #Name
	units?:   string
	initial?: number
	public?:  #Direction
	private?: #Direction
	tag?:     #Identifier
}

#ProtocolEquation: {
	target: #Name
	bvar?:  #Name
	rhs:    string & !=""
}

#Input: {variable: #Decl} | {equation: #ProtocolEquation} | {units: #Units}

#Protocol: {
	name?: string
	inputs: [...#Input]
	outputs?: [...#Name]
}
`
