package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ListFile is the on-disk layout of a menu list file:
//
//	default: hana
//	lists:
//	  hana: https://untappd.com/v/pub-kultainen-apina/17995?ng_menu_id=...
type ListFile struct {
	Default string            `yaml:"default"`
	Lists   map[string]string `yaml:"lists"`
}

// LoadListFile reads and decodes a YAML list file.
func LoadListFile(path string) (*ListFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read list file: %w", err)
	}

	var lf ListFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("decode list file %s: %w", path, err)
	}
	if len(lf.Lists) == 0 {
		return nil, fmt.Errorf("list file %s defines no lists", path)
	}
	return &lf, nil
}

// ParseListFlag parses a "name=url" pair.
func ParseListFlag(value string) (string, string, error) {
	name, raw, ok := strings.Cut(value, "=")
	name = strings.TrimSpace(name)
	raw = strings.TrimSpace(raw)
	if !ok || name == "" || raw == "" {
		return "", "", errors.New("list must be given as name=url")
	}
	return name, raw, nil
}

// ListFlags collects repeated -list flags.
type ListFlags map[string]string

func (l ListFlags) String() string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Set implements flag.Value.
func (l ListFlags) Set(value string) error {
	name, raw, err := ParseListFlag(value)
	if err != nil {
		return err
	}
	l[name] = raw
	return nil
}
