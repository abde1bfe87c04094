package config

import (
	"context"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/google/go-cmp/cmp"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry(cuecontext.New())

	err := sr.RegisterSchema("stimulus", `
#Stimulus: {
	amplitude: number
	period:    number & >0
}
`, "#Stimulus")
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("stimulus")
	if !ok {
		t.Fatal("expected to find stimulus schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if err := sr.RegisterSchema("broken", "#X: {", ""); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("nodef", "#X: int", "#Y"); err == nil {
		t.Error("expected missing definition error")
	}

	want := []string{SchemaModel, SchemaProtocol, "stimulus"}
	if diff := cmp.Diff(want, sr.ListSchemas()); diff != "" {
		t.Errorf("ListSchemas mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaRegistry_ValidateAgainstSchema(t *testing.T) {
	sr := NewSchemaRegistry(cuecontext.New())
	ctx := context.Background()

	tests := []struct {
		name    string
		schema  string
		data    interface{}
		wantErr bool
	}{
		{
			name:   "valid protocol",
			schema: SchemaProtocol,
			data: map[string]interface{}{
				"inputs": []interface{}{
					map[string]interface{}{"equation": map[string]interface{}{
						"target": "cell,k",
						"rhs":    "2 * gate.rate",
					}},
				},
				"outputs": []interface{}{"tag:decaying_quantity"},
			},
		},
		{
			name:   "bad name",
			schema: SchemaProtocol,
			data: map[string]interface{}{
				"inputs": []interface{}{
					map[string]interface{}{"variable": map[string]interface{}{"name": "a,b,c"}},
				},
			},
			wantErr: true,
		},
		{
			name:   "model without namespaces",
			schema: SchemaModel,
			data: map[string]interface{}{
				"name":       "empty",
				"namespaces": []interface{}{},
				"variables":  []interface{}{},
			},
			wantErr: true,
		},
		{
			name:    "unknown schema",
			schema:  "missing",
			data:    map[string]interface{}{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, tt.schema, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAgainstSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
