package conversation

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed log.schema.json
var logSchemaJSON string

const logSchemaURL = "conversation_log.schema.json"

var (
	logSchemaOnce sync.Once
	logSchema     *jsonschema.Schema
	logSchemaErr  error
)

func compiledLogSchema() (*jsonschema.Schema, error) {
	logSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(logSchemaURL, strings.NewReader(logSchemaJSON)); err != nil {
			logSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		logSchema, logSchemaErr = compiler.Compile(logSchemaURL)
		if logSchemaErr != nil {
			logSchemaErr = fmt.Errorf("compile schema: %w", logSchemaErr)
		}
	})
	return logSchema, logSchemaErr
}

// ValidateLogShape checks a raw conversation snapshot against the
// conversation log schema.
func ValidateLogShape(raw []byte) error {
	schema, err := compiledLogSchema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("conversation log is not json: %w", err)
	}
	return schema.Validate(payload)
}
