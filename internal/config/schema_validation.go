package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	agentschema "github.com/Paintersrp/agentmgr/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const agentSchemaURL = "agent.v1.json"

var (
	schemaOnce  sync.Once
	agentSchema *jsonschema.Schema
	schemaErr   error
)

func loadAgentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(agentSchemaURL, bytes.NewReader(agentschema.AgentV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add agent schema resource: %w", err)
			return
		}
		agentSchema, schemaErr = compiler.Compile(agentSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile agent schema: %w", schemaErr)
		}
	})
	return agentSchema, schemaErr
}

// validateAgainstSchema checks a decoded YAML document before it is mapped
// onto Agent, so that type errors are reported with their location.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadAgentSchema()
	if err != nil {
		return fmt.Errorf("load agent schema: %w", err)
	}

	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		var vErr *jsonschema.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("schema validation failed:\n%s", formatValidationError(vErr))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// normalizeForSchema round-trips the YAML value through JSON so that the
// validator sees json.Number and plain maps.
func normalizeForSchema(doc map[string]any) (any, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// formatValidationError lists the leaf causes of a validation failure, one
// per line, keyed by the dotted location of the offending value.
func formatValidationError(err *jsonschema.ValidationError) string {
	var lines []string
	collectCauses(err, &lines)
	return strings.Join(lines, "\n")
}

func collectCauses(err *jsonschema.ValidationError, lines *[]string) {
	if len(err.Causes) == 0 {
		*lines = append(*lines, fmt.Sprintf("- %s: %s", instanceKey(err.InstanceLocation), err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectCauses(cause, lines)
	}
}

// instanceKey turns a JSON pointer such as /collector/prefix/0 into
// collector.prefix[0].
func instanceKey(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(segment); err == nil {
			fmt.Fprintf(&b, "[%s]", segment)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "config"
	}
	return b.String()
}
