package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/itchyny/gojq"

	"github.com/simplesurance/hookd/internal/cfg"
	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/forward/action"
	"github.com/simplesurance/hookd/internal/forward/action/httprequest"
	"github.com/simplesurance/hookd/internal/stringutils"
)

// ActionConfig is an interface for an action that is executed as part of a Rule.
type ActionConfig interface {
	// Render runs renderFunc for all configuration options of the
	// action that are templated and returns a runnable action.
	Render(result dispatch.Result, renderFunc func(string) (string, error)) (action.Runner, error)
	// String returns a short representation of the ActionConfig
	String() string
	// DetailedString returns a formatted detailed description.
	DetailedString() string
}

// Rule defines the condition that must apply for a result and the actions
// that are run when it matches.
type Rule struct {
	name        string
	filterQuery *gojq.Query
	actions     []ActionConfig
}

func NewRule(name, jqQuery string, actions []ActionConfig) (*Rule, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, err
	}

	return &Rule{
		name:        name,
		filterQuery: query,
		actions:     actions,
	}, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Match returns Match if the filter-query of the rule evaluates to true for
// the result.
func (r *Rule) Match(ctx context.Context, result dispatch.Result) (MatchResult, error) {
	if len(result) == 0 {
		return MatchResultUndefined, errors.New("result is empty")
	}

	res, errs := goJQIterToSlice(r.filterQuery.RunWithContext(ctx, map[string]any(result)))
	if len(errs) != 0 {
		return MatchResultUndefined, fmt.Errorf("json query returned errors, query: %q, errors: %s", r.filterQuery.String(), errString(errs))
	}

	if len(res) == 0 {
		return MatchResultUndefined, fmt.Errorf("json query returned 0 results, expected 1, query: %q", r.filterQuery.String())
	}

	if len(res) > 1 {
		return MatchResultUndefined, fmt.Errorf("json query returned multiple results, expected 1, query: %q, result: '%+v'", r.filterQuery.String(), res)
	}

	switch val := res[0].(type) {
	case bool:
		if val {
			return Match, nil
		}

		return RuleMismatch, nil

	default:
		return MatchResultUndefined, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			val, val, r.filterQuery.String(),
		)
	}
}

var templateFuncs = template.FuncMap{
	"queryescape": url.QueryEscape,
	"tojson": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

func renderFunc(result dispatch.Result) func(in string) (string, error) {
	return func(text string) (string, error) {
		templ, err := template.New("action").Funcs(templateFuncs).Parse(text)
		if err != nil {
			return "", err
		}

		var out bytes.Buffer

		templateContext := struct{ Result dispatch.Result }{
			Result: result,
		}

		err = templ.Execute(&out, &templateContext)
		if err != nil {
			return "", err
		}

		return out.String(), nil
	}
}

// RenderActions templates the action definitions of the rule for result.
func (r *Rule) RenderActions(result dispatch.Result) ([]action.Runner, error) {
	runners := make([]action.Runner, 0, len(r.actions))

	for _, actionDef := range r.actions {
		runner, err := actionDef.Render(result, renderFunc(result))
		if err != nil {
			return nil, fmt.Errorf("templating action definition %q failed: %w", actionDef, err)
		}

		runners = append(runners, runner)
	}

	return runners, nil
}

// RulesFromCfg instantiates Rules from the forward section of the
// configuration.
func RulesFromCfg(cfgRules []*cfg.ForwardRule) (Rules, error) {
	result := make([]*Rule, 0, len(cfgRules))
	names := make(map[string]struct{}, len(cfgRules))

	for _, cfgRule := range cfgRules {
		var actions []ActionConfig

		if cfgRule.Name == "" {
			return nil, errors.New("forward: missing field: 'name'")
		}

		if _, exists := names[cfgRule.Name]; exists {
			return nil, fmt.Errorf("forward %s: name is not unique", cfgRule.Name)
		}
		names[cfgRule.Name] = struct{}{}

		if cfgRule.FilterQuery == "" {
			return nil, fmt.Errorf("forward %s: missing field: 'filter_query'", cfgRule.Name)
		}

		if len(cfgRule.Actions) == 0 {
			return nil, fmt.Errorf("forward %s: missing array field: 'action'", cfgRule.Name)
		}

		for _, cfgAction := range cfgRule.Actions {
			val, ok := cfgAction["action"]
			if !ok {
				return nil, fmt.Errorf("forward %s: action: missing string field 'action'", cfgRule.Name)
			}

			actionName, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("forward %s: action: action field is not a string field", cfgRule.Name)
			}

			switch strings.ToLower(actionName) {
			case "httprequest":
				actionCfg, err := httprequest.NewConfigFromMap(cfgAction)
				if err != nil {
					return nil, fmt.Errorf(
						"forward %s: action %s: parsing failed: %w",
						cfgRule.Name, actionName, err,
					)
				}

				actions = append(actions, actionCfg)

			default:
				return nil, fmt.Errorf("forward %s: unsupported action: %q", cfgRule.Name, actionName)
			}
		}

		rule, err := NewRule(cfgRule.Name, cfgRule.FilterQuery, actions)
		if err != nil {
			return nil, fmt.Errorf("forward %s: parsing filter_query failed: %w", cfgRule.Name, err)
		}

		result = append(result, rule)
	}

	return result, nil
}

func (r *Rule) String() string {
	return r.name
}

func (r *Rule) DetailedString() string {
	var result strings.Builder

	result.WriteString(fmt.Sprintf("Name: %s\nFilterQuery: %s\n", r.name, r.filterQuery))

	for i, action := range r.actions {
		if i == 0 {
			result.WriteString("Actions:\n")
		}

		result.WriteString(stringutils.IndentString(action.DetailedString(), "  "))
	}

	return result.String()
}

// Rules is the ordered list of forwarding rules. Every rule is evaluated for
// every result.
type Rules []*Rule

// String returns a multi-line description of all rules, the secrets of their
// actions are masked.
func (rr Rules) String() string {
	if len(rr) == 0 {
		return "no forwarding rules"
	}

	descs := make([]string, 0, len(rr))
	for i, r := range rr {
		descs = append(descs, fmt.Sprintf(
			"rule %d/%d:\n%s",
			i+1, len(rr), stringutils.IndentString(r.DetailedString(), "  "),
		))
	}

	return strings.Join(descs, "\n")
}
