package descriptor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
	"github.com/conneroisu/scaffolder/internal/validation"
)

// RequiredFields are the descriptor fields the catalog schema demands.
var RequiredFields = []string{"name", "version", "description", "author", "license"}

var knownTypes = map[string]bool{
	"":          true,
	TypeString:  true,
	TypeNumber:  true,
	TypeInteger: true,
	TypeBoolean: true,
	TypeArray:   true,
	TypeObject:  true,
}

var knownHandling = map[string]bool{
	HandlingAuto:     true,
	HandlingTemplate: true,
	HandlingCopy:     true,
	HandlingSkip:     true,
}

func (d *Descriptor) requiredValues() map[string]string {
	return map[string]string{
		"name":        d.Name,
		"version":     d.Version,
		"description": d.Description,
		"author":      d.Author,
		"license":     d.License,
	}
}

// ValidateSchema applies the fixed catalog schema: every required field must
// be present. All missing fields are reported together.
func ValidateSchema(d *Descriptor) error {
	collector := scaffolderrors.NewErrorCollector()
	checkRequired(d, collector)
	return schemaError(d, collector)
}

func checkRequired(d *Descriptor, collector *scaffolderrors.ErrorCollector) {
	values := d.requiredValues()
	for _, field := range RequiredFields {
		if strings.TrimSpace(values[field]) == "" {
			collector.Add(field, "required", "is required")
		}
	}
}

func schemaError(d *Descriptor, collector *scaffolderrors.ErrorCollector) error {
	if !collector.HasErrors() {
		return nil
	}
	se := scaffolderrors.NewValidationError(
		scaffolderrors.ErrCodeDescriptorInvalid,
		"template descriptor is invalid",
		collector.Violations()...,
	)
	if d.File != "" {
		se = se.WithPath(d.File)
	}
	return se
}

// Report is the outcome of a full descriptor validation that did not fail.
type Report struct {
	Advisories []string
}

// Validate performs the full pre-generation check: required fields, semantic
// version format, and well-formed dependencies, variables and files. A failed
// security scan is fatal; a warning scan is returned as an advisory.
func Validate(d *Descriptor) (*Report, error) {
	collector := scaffolderrors.NewErrorCollector()
	report := &Report{}

	checkRequired(d, collector)

	if d.Version != "" {
		if _, err := semver.StrictNewVersion(d.Version); err != nil {
			collector.Add("version", "semver", fmt.Sprintf("%q is not a semantic version", d.Version))
		}
	}

	for i, dep := range d.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)
		if strings.TrimSpace(dep.Name) == "" {
			collector.Add(field+".name", "required", "is required")
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				collector.Add(field+".version", "range", fmt.Sprintf("%q is not a version range", dep.Version))
			}
		}
	}

	seen := make(map[string]bool, len(d.Variables))
	for i, v := range d.Variables {
		validateVariableSpec(fmt.Sprintf("variables[%d]", i), v, seen, collector)
	}

	for i, rule := range d.Files {
		validateFileRule(fmt.Sprintf("files[%d]", i), rule, collector)
	}

	if err := schemaError(d, collector); err != nil {
		return nil, err
	}

	switch strings.ToLower(d.Security.Status) {
	case SecurityFailed:
		se := scaffolderrors.NewSecurityError(scaffolderrors.ErrCodeSecurityScanFailed,
			fmt.Sprintf("template %s failed its security scan", d.Key()))
		if len(d.Security.Issues) > 0 {
			se = se.WithContext("issues", d.Security.Issues)
		}
		return nil, se
	case SecurityWarning:
		msg := fmt.Sprintf("security scan reported warnings for %s", d.Key())
		if len(d.Security.Issues) > 0 {
			msg += ": " + strings.Join(d.Security.Issues, "; ")
		}
		report.Advisories = append(report.Advisories, msg)
	}

	return report, nil
}

func validateVariableSpec(field string, v VariableSpec, seen map[string]bool, collector *scaffolderrors.ErrorCollector) {
	if strings.TrimSpace(v.Name) == "" {
		collector.Add(field+".name", "required", "is required")
		return
	}
	if seen[v.Name] {
		collector.Add(field+".name", "unique", fmt.Sprintf("duplicate variable %q", v.Name))
	}
	seen[v.Name] = true

	if !knownTypes[v.Type] {
		collector.Add(field+".type", "enum", fmt.Sprintf("unknown type %q", v.Type))
		return
	}
	if v.Pattern != "" {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			collector.Add(field+".pattern", "regexp", err.Error())
		}
	}
	if v.Default != nil && !defaultMatchesType(v.Type, v.Default) {
		collector.Add(field+".default", "type", fmt.Sprintf("default does not match type %s", v.Type))
	}
}

func defaultMatchesType(typ string, value interface{}) bool {
	switch typ {
	case "", TypeString:
		_, ok := value.(string)
		return ok || typ == ""
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeInteger:
		switch n := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case TypeNumber:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case TypeArray:
		_, ok := value.([]interface{})
		return ok
	case TypeObject:
		switch value.(type) {
		case map[string]interface{}, map[interface{}]interface{}:
			return true
		}
		return false
	}
	return false
}

func validateFileRule(field string, rule FileRule, collector *scaffolderrors.ErrorCollector) {
	if strings.TrimSpace(rule.Source) == "" {
		collector.Add(field+".source", "required", "is required")
	}
	if !knownHandling[rule.Type] {
		collector.Add(field+".type", "enum", fmt.Sprintf("unknown handling %q", rule.Type))
	}
	if rule.Destination != "" {
		if err := validation.ValidateRelativePath(rule.Destination); err != nil {
			collector.Add(field+".destination", "path", err.Error())
		}
	}
	if rule.Permissions != "" {
		if _, err := ParsePermissions(rule.Permissions); err != nil {
			collector.Add(field+".permissions", "octal", err.Error())
		}
	}
}

// ParsePermissions parses an octal permission spec such as "0755" or "644".
func ParsePermissions(spec string) (uint32, error) {
	mode, err := strconv.ParseUint(strings.TrimPrefix(spec, "0o"), 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("%q is not an octal permission", spec)
	}
	return uint32(mode), nil
}
