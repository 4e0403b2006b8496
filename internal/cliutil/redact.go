package cliutil

import (
	"regexp"
	"sort"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|api_?key|access_?key|credential)`)

// IsSensitiveKey reports whether an environment variable name looks like it
// holds a secret.
func IsSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(key)
}

// RedactEnv renders env as sorted NAME=value pairs with sensitive values
// masked.
func RedactEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		value := env[k]
		if IsSensitiveKey(k) && value != "" {
			value = redactedPlaceholder
		}
		out = append(out, k+"="+value)
	}
	return out
}

// RedactArgs masks the values of NAME=value arguments whose name looks
// sensitive, such as the token in "sudo API_TOKEN=abc collector".
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		name, _, found := strings.Cut(arg, "=")
		if found && name != "" && !strings.HasPrefix(name, "-") && IsSensitiveKey(name) {
			arg = name + "=" + redactedPlaceholder
		}
		out[i] = arg
	}
	return out
}
