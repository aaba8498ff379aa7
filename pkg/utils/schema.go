package utils

import "github.com/invopop/jsonschema"

// GenerateSchema creates a strict, fully inlined JSON schema for T.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var v T

	return reflector.Reflect(v)
}
