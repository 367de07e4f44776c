package params

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a raw key/value view of a params.cfg file.
type Config map[string]string

// ParseConfig reads `key = value` lines. Blank lines and lines starting with
// '#' are skipped; any other line must contain exactly one '=' separated pair.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := make(Config)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var tokens []string
		for _, tok := range strings.Split(line, "=") {
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
		if len(tokens) != 2 {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", lineNo, line)
		}
		cfg[strings.TrimSpace(tokens[0])] = strings.TrimSpace(tokens[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	return cfg, nil
}

// Apply copies recognized keys onto p. Keys use the params.cfg names
// (lambda, n, outConn, powerPercent, qIn, qOut, resist, resistMax, resistMin,
// maxSteps, linkProb, recipProb). Unknown keys are ignored.
func (c Config) Apply(p *Parameters) error {
	floats := map[string]*float64{
		"lambda":       &p.Lambda,
		"powerPercent": &p.PowerPercent,
		"resist":       &p.Resist,
		"resistMax":    &p.ResistMax,
		"resistMin":    &p.ResistMin,
		"linkProb":     &p.LinkProb,
		"recipProb":    &p.RecipProb,
	}
	uints := map[string]*uint32{
		"n":       &p.N,
		"outConn": &p.OutConnections,
		"qIn":     &p.QIn,
		"qOut":    &p.QOut,
	}

	for key, raw := range c {
		if dst, ok := floats[key]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = v
			continue
		}
		if dst, ok := uints[key]; ok {
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = uint32(v)
			continue
		}
		if key == "maxSteps" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			p.Steps = v
		}
	}
	return nil
}

// LoadFromFile loads parameters from path on top of the defaults. Files ending
// in .yaml or .yml are decoded as YAML; anything else is read as params.cfg.
// Environment overrides are applied last.
func LoadFromFile(path string) (Parameters, error) {
	p := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading parameters: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		cfg, err := ParseConfig(strings.NewReader(string(data)))
		if err != nil {
			return p, fmt.Errorf("parsing %s: %w", path, err)
		}
		if err := cfg.Apply(&p); err != nil {
			return p, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&p)
	return p, nil
}

// Load reads path with LoadFromFile. An empty path yields the defaults with
// environment overrides applied.
func Load(path string) (Parameters, error) {
	if path == "" {
		p := Default()
		applyEnvOverrides(&p)
		return p, nil
	}
	return LoadFromFile(path)
}

// applyEnvOverrides applies IRIS_* environment variables. Unparseable values
// are ignored.
func applyEnvOverrides(p *Parameters) {
	cfg := make(Config)
	envKeys := map[string]string{
		"IRIS_LAMBDA":        "lambda",
		"IRIS_N":             "n",
		"IRIS_OUT_CONN":      "outConn",
		"IRIS_POWER_PERCENT": "powerPercent",
		"IRIS_Q_IN":          "qIn",
		"IRIS_Q_OUT":         "qOut",
		"IRIS_RESIST":        "resist",
		"IRIS_RESIST_MAX":    "resistMax",
		"IRIS_RESIST_MIN":    "resistMin",
		"IRIS_MAX_STEPS":     "maxSteps",
		"IRIS_LINK_PROB":     "linkProb",
		"IRIS_RECIP_PROB":    "recipProb",
	}
	for env, key := range envKeys {
		if v := os.Getenv(env); v != "" {
			cfg[key] = v
		}
	}
	for key, raw := range cfg {
		single := Config{key: raw}
		_ = single.Apply(p)
	}
}
