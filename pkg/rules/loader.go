package rules

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// IsRuleFile reports whether path has a rule file extension.
func IsRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadFile reads and compiles one rule set. JSON files may contain comments
// and trailing commas.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	rs := &RuleSet{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(jsonc.ToJSON(data), rs)
	} else {
		err = yaml.Unmarshal(data, rs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	rs.Source = path
	if rs.ID == "" {
		rs.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := rs.Compile(); err != nil {
		return nil, err
	}
	return rs, nil
}

func ruleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !IsRuleFile(entry.Name()) || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Digest hashes the names and contents of the rule files in dir. Two
// directories with the same digest load the same rule sets.
func Digest(dir string) (string, error) {
	names, err := ruleFiles(dir)
	if err != nil {
		return "", err
	}

	h := blake3.New()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to read rule file: %w", err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00", name, len(data))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LoadDir loads every rule file directly inside dir. Rule set ids must be
// unique across files.
func LoadDir(dir string) ([]*RuleSet, error) {
	names, err := ruleFiles(dir)
	if err != nil {
		return nil, err
	}

	sets := make([]*RuleSet, 0, len(names))
	byID := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		rs, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := byID[rs.ID]; dup {
			return nil, fmt.Errorf("rule set %s defined in both %s and %s", rs.ID, prev, path)
		}
		byID[rs.ID] = path
		sets = append(sets, rs)
	}
	return sets, nil
}
