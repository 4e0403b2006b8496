package schema

import _ "embed"

// AgentV1Schema contains the JSON schema for YAML agent configs.
//
//go:embed agent.v1.json
var AgentV1Schema []byte
