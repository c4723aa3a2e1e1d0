package forward

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/hookd/internal/cfg"
	"github.com/simplesurance/hookd/internal/dispatch"
)

var pushResult = dispatch.Result{
	dispatch.KeyStatus:    dispatch.StatusProcessed,
	dispatch.KeyEventType: "push",
	"repository":          "o/r",
	"pusher":              "alice",
	"ref":                 "refs/heads/main",
	"commits":             3,
}

func TestRuleMatch(t *testing.T) {
	testcases := []struct {
		query    string
		expected MatchResult
	}{
		{query: `.event_type == "push"`, expected: Match},
		{query: `.event_type == "push" and .ref == "refs/heads/main"`, expected: Match},
		{query: `.commits > 2`, expected: Match},
		{query: `.event_type == "issues"`, expected: RuleMismatch},
		{query: `.repository | startswith("other/")`, expected: RuleMismatch},
	}

	for _, tc := range testcases {
		t.Run(tc.query, func(t *testing.T) {
			rule, err := NewRule("test", tc.query, nil)
			require.NoError(t, err)

			match, err := rule.Match(context.Background(), pushResult)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, match, "got: %s", match)
		})
	}
}

func TestRuleMatchErrors(t *testing.T) {
	testcases := []struct {
		name  string
		query string
	}{
		{name: "nonBool", query: ".repository"},
		{name: "multipleResults", query: "true, false"},
		{name: "noResult", query: "empty"},
		{name: "runtimeError", query: `.repository.name == "x"`},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := NewRule("test", tc.query, nil)
			require.NoError(t, err)

			match, err := rule.Match(context.Background(), pushResult)
			assert.Error(t, err)
			assert.Equal(t, MatchResultUndefined, match)
		})
	}
}

func TestRuleMatchEmptyResult(t *testing.T) {
	rule, err := NewRule("test", "true", nil)
	require.NoError(t, err)

	_, err = rule.Match(context.Background(), dispatch.Result{})
	assert.Error(t, err)
}

func TestTemplateFuncs(t *testing.T) {
	templFunc := renderFunc(pushResult)

	res, err := templFunc(`{{ queryescape "a&b+c" }}`)
	require.NoError(t, err)
	assert.Equal(t, "a%26b%2Bc", res)

	res, err = templFunc(`http://ci/{{ queryescape (index .Result "repository") }}`)
	require.NoError(t, err)
	assert.Equal(t, "http://ci/o%2Fr", res)

	res, err = templFunc(`{"who": {{ tojson (index .Result "pusher") }}}`)
	require.NoError(t, err)
	assert.Equal(t, `{"who": "alice"}`, res)
}

func TestTemplateInvalid(t *testing.T) {
	_, err := renderFunc(pushResult)(`{{ .Result`)
	assert.Error(t, err)
}

func TestRulesFromCfg(t *testing.T) {
	rules, err := RulesFromCfg([]*cfg.ForwardRule{
		{
			Name:        "main-pushes",
			FilterQuery: `.event_type == "push"`,
			Actions: []map[string]any{
				{
					"action":  "httprequest",
					"url":     "http://localhost/{{ index .Result \"repository\" }}",
					"headers": map[string]any{"X-Token": "secret"},
				},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	assert.Equal(t, "main-pushes", rules[0].String())
	assert.Contains(t, rules.String(), "FilterQuery: .event_type == \"push\"")
	assert.NotContains(t, rules.String(), "secret")
	assert.True(t, strings.HasPrefix(rules.String(), "rule 1/1:\n  Name: main-pushes\n"), rules.String())
	assert.Equal(t, "no forwarding rules", Rules(nil).String())

	runners, err := rules[0].RenderActions(pushResult)
	require.NoError(t, err)
	require.Len(t, runners, 1)
	assert.Equal(t, "httprequest: POST to http://localhost/o/r", runners[0].String())
}

func TestRulesFromCfgErrors(t *testing.T) {
	validAction := map[string]any{"action": "httprequest", "url": "http://localhost"}

	testcases := []struct {
		name string
		cfg  []*cfg.ForwardRule
	}{
		{
			name: "missingName",
			cfg:  []*cfg.ForwardRule{{FilterQuery: "true", Actions: []map[string]any{validAction}}},
		},
		{
			name: "duplicateName",
			cfg: []*cfg.ForwardRule{
				{Name: "a", FilterQuery: "true", Actions: []map[string]any{validAction}},
				{Name: "a", FilterQuery: "true", Actions: []map[string]any{validAction}},
			},
		},
		{
			name: "missingFilterQuery",
			cfg:  []*cfg.ForwardRule{{Name: "a", Actions: []map[string]any{validAction}}},
		},
		{
			name: "invalidFilterQuery",
			cfg:  []*cfg.ForwardRule{{Name: "a", FilterQuery: ".a |", Actions: []map[string]any{validAction}}},
		},
		{
			name: "noActions",
			cfg:  []*cfg.ForwardRule{{Name: "a", FilterQuery: "true"}},
		},
		{
			name: "unsupportedAction",
			cfg: []*cfg.ForwardRule{{
				Name: "a", FilterQuery: "true",
				Actions: []map[string]any{{"action": "sendmail"}},
			}},
		},
		{
			name: "missingURL",
			cfg: []*cfg.ForwardRule{{
				Name: "a", FilterQuery: "true",
				Actions: []map[string]any{{"action": "httprequest"}},
			}},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RulesFromCfg(tc.cfg)
			assert.Error(t, err)
		})
	}
}
