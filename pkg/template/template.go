package template

import (
	"fmt"
	"regexp"
)

var (
	placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)\}`)
	triggerVarRe  = regexp.MustCompile(`\{\{([A-Za-z0-9_.\-]+)\}\}`)
)

// MissingParameterError reports a ${name} placeholder with no matching
// parameter. Rendering stops at the first missing name.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Name)
}

// Render substitutes every ${name} placeholder in tpl with params[name].
// A placeholder with no matching parameter is an error, not an empty string.
func Render(tpl string, params map[string]string) (string, error) {
	var missing *MissingParameterError
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		val, ok := params[name]
		if !ok {
			if missing == nil {
				missing = &MissingParameterError{Name: name}
			}
			return m
		}
		return val
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// RenderMap renders every value of tpl. Keys pass through untouched.
func RenderMap(tpl map[string]string, params map[string]string) (map[string]string, error) {
	if len(tpl) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(tpl))
	for k, v := range tpl {
		rendered, err := Render(v, params)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

// SubstituteVars replaces {{var}} occurrences in value with vars[var].
// Unknown vars are left verbatim; only the engine-provided trigger variables
// and caller overrides are bound here.
func SubstituteVars(value string, vars map[string]string) string {
	return triggerVarRe.ReplaceAllStringFunc(value, func(m string) string {
		name := triggerVarRe.FindStringSubmatch(m)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		return m
	})
}

// SubstituteVarsMap applies SubstituteVars over every value of the map.
func SubstituteVarsMap(values map[string]string, vars map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = SubstituteVars(v, vars)
	}
	return out
}
