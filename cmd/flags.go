package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"table", "json", "yaml"}

// OutputFlags is the shared --output flag.
type OutputFlags struct {
	Format string
}

// AddOutputFlags registers --output on cmd.
func AddOutputFlags(cmd *cobra.Command) *OutputFlags {
	flags := &OutputFlags{}
	cmd.Flags().StringVarP(&flags.Format, "output", "o", "table", "Output format (table|json|yaml)")
	AddFlagValidation(cmd, "output", func(format string) error {
		return ValidateFormat(format, outputFormats)
	})
	return flags
}

// ValidateFormat checks format against the allowed values.
func ValidateFormat(format string, allowed []string) error {
	for _, a := range allowed {
		if strings.EqualFold(format, a) {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %s, must be one of: %s", format, strings.Join(allowed, ", "))
}

// tagsValue collects repeated key=value flags into a tag map.
type tagsValue map[string]string

var _ pflag.Value = tagsValue(nil)

func (t tagsValue) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("tag %q is not in key=value form", s)
	}
	t[strings.TrimSpace(key)] = value
	return nil
}

func (t tagsValue) String() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + t[k]
	}
	return "[" + strings.Join(pairs, ",") + "]"
}

func (t tagsValue) Type() string {
	return "key=value"
}

// readTagsFile loads a flat YAML mapping of tag names to values.
func readTagsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags file %s: %w", path, err)
	}

	tags := make(map[string]string)
	if err := yaml.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("invalid YAML in tags file %s: %w", path, err)
	}
	return tags, nil
}

// AddFlagValidation wraps a flag so values are validated when set.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if err := v.validator(val); err != nil {
		return err
	}
	return v.Value.Set(val)
}
