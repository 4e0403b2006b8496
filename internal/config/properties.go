package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

const (
	collectorEnvPrefix    = "collector.env."
	orchestratorEnvPrefix = "orchestrator.env."
)

// propertyNamespaces are the key prefixes owned by agentmgr. Unknown keys
// inside them are rejected; keys outside them are skipped so files shared
// with other tools still load.
var propertyNamespaces = []string{"collector.", "orchestrator.", "pipe."}

// propertyKeys lists every scalar key accepted in a properties file.
var propertyKeys = map[string]func(a *Agent, value string) error{
	"workdir":                  func(a *Agent, v string) error { a.Workdir = v; return nil },
	"collector.path":           func(a *Agent, v string) error { a.Collector.Path = strings.TrimSpace(v); return nil },
	"collector.prefix":         func(a *Agent, v string) error { a.Collector.Prefix = splitArgs(v); return nil },
	"collector.envFromFile":    func(a *Agent, v string) error { a.Collector.EnvFromFile = strings.TrimSpace(v); return nil },
	"orchestrator.path":        func(a *Agent, v string) error { a.Orchestrator.Path = strings.TrimSpace(v); return nil },
	"orchestrator.interpreter": func(a *Agent, v string) error { a.Orchestrator.Interpreter = splitArgs(v); return nil },
	"orchestrator.envFromFile": func(a *Agent, v string) error { a.Orchestrator.EnvFromFile = strings.TrimSpace(v); return nil },
	"orchestrator.stopOnExit":  parseStopOnExit,
	"orchestrator.stopTimeout": func(a *Agent, v string) error { return a.Orchestrator.StopTimeout.UnmarshalText([]byte(strings.TrimSpace(v))) },
	"pipe.drainGrace":          func(a *Agent, v string) error { return a.Pipe.DrainGrace.UnmarshalText([]byte(strings.TrimSpace(v))) },
}

// decodeProperties maps a properties document onto an Agent. ${NAME}
// references are expanded by the properties parser, first against other
// keys and then against the environment.
func decodeProperties(data []byte) (*Agent, error) {
	p, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var doc Agent
	keys := p.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		value, _ := p.Get(key)
		switch {
		case strings.HasPrefix(key, collectorEnvPrefix):
			doc.Collector.Env = setEnv(doc.Collector.Env, strings.TrimPrefix(key, collectorEnvPrefix), value)
		case strings.HasPrefix(key, orchestratorEnvPrefix):
			doc.Orchestrator.Env = setEnv(doc.Orchestrator.Env, strings.TrimPrefix(key, orchestratorEnvPrefix), value)
		default:
			set, ok := propertyKeys[key]
			if !ok {
				if ownedKey(key) {
					return nil, keyError(key, ErrUnknownKey)
				}
				doc.Ignored = append(doc.Ignored, key)
				continue
			}
			if err := set(&doc, value); err != nil {
				return nil, keyError(key, err)
			}
		}
	}
	return &doc, nil
}

func ownedKey(key string) bool {
	for _, prefix := range propertyNamespaces {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// loadEnvFile reads NAME=value pairs using the properties syntax.
func loadEnvFile(path string) (map[string]string, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return p.Map(), nil
}

func parseStopOnExit(a *Agent, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		a.Orchestrator.StopOnExit = false
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", value)
	}
	a.Orchestrator.StopOnExit = b
	return nil
}

// splitArgs splits a whitespace separated argument list. An empty value
// yields an empty, non-nil slice so that it is not replaced by a default.
func splitArgs(value string) []string {
	fields := strings.Fields(value)
	if fields == nil {
		return []string{}
	}
	return fields
}

func setEnv(env map[string]string, name, value string) map[string]string {
	if env == nil {
		env = map[string]string{}
	}
	env[name] = value
	return env
}
