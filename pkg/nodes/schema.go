// Package nodes holds helpers shared by the node handler packages.
package nodes

import (
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/validation"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig checks a node's encoded configuration against schema and its struct tags.
func ValidateConfig(node models.Node, schema map[string]any) validation.Result {
	result := validation.Valid()

	record, err := models.EncodeNode(node)
	if err != nil {
		result.AddError(node.NodeID(), err.Error())

		return result
	}

	config := record.Config
	if config == nil {
		config = map[string]any{}
	}

	schemaResult, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		result.AddError(node.NodeID(), "schema validation failed: "+err.Error())

		return result
	}

	for _, e := range schemaResult.Errors() {
		result.AddError(node.NodeID(), e.String())
	}

	if err := structValidator.Struct(node); err != nil {
		if fieldErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrors {
				result.AddError(node.NodeID(), fe.Error())
			}
		} else {
			result.AddError(node.NodeID(), err.Error())
		}
	}

	return result
}

// WrongKind is the result for a node handed to a handler of another kind.
func WrongKind(node models.Node, want models.NodeKind) validation.Result {
	return validation.Errorf(node.NodeID(), "expected %s node, got %s", want, node.Kind())
}
