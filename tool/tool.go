// Package tool defines the retrieval functions the assistant can invoke
// during a chat turn, as name/description/schema triples paired with an
// executor.
package tool

import (
	"context"
	"fmt"

	"github.com/fogfish/opts"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Executor runs a tool invocation. The args hold the parsed JSON arguments
// the model produced for the call.
type Executor func(ctx context.Context, args gjson.Result) (string, error)

// Definition describes one callable tool: its wire name, the description the
// model sees, the JSON schema of its arguments, and the executor that runs it.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Execute     Executor
}

// Option is a type alias for a function that modifies the configuration
// options of a tool definition.
type Option = opts.Option[Definition]

var (
	// Name sets the wire name of the tool.
	Name = opts.ForName[Definition, string]("Name")
	// Description sets the description the model sees for the tool.
	Description = opts.ForName[Definition, string]("Description")
	// Parameters sets the JSON schema for the tool's arguments.
	Parameters = opts.ForName[Definition, *jsonschema.Schema]("Parameters")
)

// New creates a tool definition around the provided executor.
func New(exec Executor, options ...Option) (Definition, error) {
	if exec == nil {
		return Definition{}, fmt.Errorf("executor is required")
	}

	var def Definition
	if err := opts.Apply(&def, options); err != nil {
		return Definition{}, err
	}
	if def.Name == "" {
		return Definition{}, fmt.Errorf("tool name is required")
	}
	if def.Parameters == nil {
		def.Parameters = ObjectSchema()
	}

	def.Execute = exec
	return def, nil
}

// Must wraps New and panics on error. Use it for the statically known tool
// definitions wired at startup.
func Must(exec Executor, options ...Option) Definition {
	def, err := New(exec, options...)
	if err != nil {
		panic(err)
	}
	return def
}

// Property is a named argument in a tool's parameter schema.
type Property struct {
	Name        string
	Description string
	Required    bool
}

// StringProperty describes a required string argument.
func StringProperty(name, description string) Property {
	return Property{Name: name, Description: description, Required: true}
}

// OptionalStringProperty describes an optional string argument.
func OptionalStringProperty(name, description string) Property {
	return Property{Name: name, Description: description}
}

// ObjectSchema builds the parameter schema for a tool from its properties.
func ObjectSchema(properties ...Property) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}
	for _, prop := range properties {
		schema.Properties.Set(prop.Name, &jsonschema.Schema{
			Type:        "string",
			Description: prop.Description,
		})
		if prop.Required {
			schema.Required = append(schema.Required, prop.Name)
		}
	}
	return schema
}
