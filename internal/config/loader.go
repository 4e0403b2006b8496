package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads an agent configuration from path. Files ending in .yaml or
// .yml are decoded as YAML and validated against the embedded schema; any
// other file is read as a Java-style properties file. Process paths are kept
// as written and resolve against the supervisor's working directory, unless
// a workdir is configured, in which case relative paths are joined to it.
// Every failure is returned as an *Error.
func Load(path string) (*Agent, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("resolve config path: %w", err)}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &Error{Path: absPath, Err: fmt.Errorf("read config file: %w", err)}
	}

	var doc *Agent
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		doc, err = decodeYAML(data)
	default:
		doc, err = decodeProperties(data)
	}
	if err != nil {
		return nil, withPath(absPath, err)
	}
	doc.Source = absPath

	if err := doc.resolve(filepath.Dir(absPath)); err != nil {
		return nil, withPath(absPath, err)
	}
	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, withPath(absPath, err)
	}
	return doc, nil
}

func decodeYAML(data []byte) (*Agent, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc Agent
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	doc.expandEnv()
	return &doc, nil
}

// expandEnv substitutes $NAME and ${NAME} references in the YAML form. The
// properties parser performs its own expansion.
func (a *Agent) expandEnv() {
	a.Workdir = os.ExpandEnv(a.Workdir)
	for _, p := range []*ProcessSpec{&a.Collector.ProcessSpec, &a.Orchestrator.ProcessSpec} {
		p.Path = os.ExpandEnv(p.Path)
		p.EnvFromFile = os.ExpandEnv(p.EnvFromFile)
		for k, v := range p.Env {
			p.Env[k] = os.ExpandEnv(v)
		}
	}
}

// resolve joins an explicit workdir to the config directory and merges env
// files under inline env. Env files are read relative to the workdir, or to
// the config directory when no workdir is set.
func (a *Agent) resolve(configDir string) error {
	if a.Workdir != "" {
		a.Workdir = resolvePath(configDir, a.Workdir)
	}

	for _, p := range []struct {
		key  string
		spec *ProcessSpec
	}{
		{key: "collector", spec: &a.Collector.ProcessSpec},
		{key: "orchestrator", spec: &a.Orchestrator.ProcessSpec},
	} {
		if err := p.spec.resolve(p.key, a.Workdir, configDir); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProcessSpec) resolve(key, workdir, configDir string) error {
	if workdir != "" && p.Path != "" {
		p.Path = resolvePath(workdir, p.Path)
	}

	var fileEnv map[string]string
	if p.EnvFromFile != "" {
		base := workdir
		if base == "" {
			base = configDir
		}
		p.EnvFromFile = resolvePath(base, p.EnvFromFile)
		var err error
		fileEnv, err = loadEnvFile(p.EnvFromFile)
		if err != nil {
			return keyError(key+".envFromFile", err)
		}
	}

	if len(fileEnv) == 0 && len(p.Env) == 0 {
		p.Env = nil
		return nil
	}
	merged := make(map[string]string, len(fileEnv)+len(p.Env))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range p.Env {
		merged[k] = v
	}
	p.Env = merged
	return nil
}

func resolvePath(base, path string) string {
	if path == "" {
		return base
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(base, path))
}

func withPath(path string, err error) error {
	var cfgErr *Error
	if errors.As(err, &cfgErr) {
		if cfgErr.Path == "" {
			cfgErr.Path = path
		}
		return cfgErr
	}
	return &Error{Path: path, Err: err}
}
