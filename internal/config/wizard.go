package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading from stdin and writing to stdout
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a wizard over arbitrary streams.
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run walks through the main settings starting from base. Pressing Enter
// keeps the current value. A nil base starts from DefaultConfig.
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== Sylva Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	validator := NewValidator()

	dataDir, err := w.ask("Data directory", cfg.DataDir, nil)
	if err != nil {
		return nil, err
	}
	cfg.RebasePaths(dataDir)

	backend, err := w.ask("Memory backend (memory/sqlite)", cfg.Memory.Backend, validator.ValidateBackend)
	if err != nil {
		return nil, err
	}
	cfg.Memory.Backend = backend

	enable, err := w.confirm("Enable regulatory agent?", cfg.Agents.Regulatory.Enabled)
	if err != nil {
		return nil, err
	}
	cfg.Agents.Regulatory.Enabled = enable
	if enable {
		dir, err := w.ask("Rules directory", cfg.Agents.Regulatory.RulesDir, nil)
		if err != nil {
			return nil, err
		}
		cfg.Agents.Regulatory.RulesDir = dir
	}

	metricsOn, err := w.confirm("Expose Prometheus metrics?", cfg.Metrics.Enabled)
	if err != nil {
		return nil, err
	}
	cfg.Metrics.Enabled = metricsOn
	if metricsOn {
		addr, err := w.ask("Metrics listen address", cfg.Metrics.Address, validator.ValidateAddress)
		if err != nil {
			return nil, err
		}
		cfg.Metrics.Address = addr
	}

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level, validator.ValidateLogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = level

	cfg.ApplyPaths()

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")
	return cfg, nil
}

// ask prompts until validate accepts the answer. Empty input keeps def.
func (w *Wizard) ask(prompt, def string, validate func(string) error) (string, error) {
	for {
		if def != "" {
			fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
		} else {
			fmt.Fprintf(w.out, "%s: ", prompt)
		}
		answer, err := w.readLine()
		if err != nil {
			return "", err
		}
		if answer == "" {
			answer = def
		}
		if validate != nil {
			if err := validate(answer); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
		}
		return answer, nil
	}
}

func (w *Wizard) confirm(prompt string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(w.out, "%s (%s): ", prompt, hint)
	answer, err := w.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// readLine reads a trimmed line. EOF after partial input counts as a line.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
