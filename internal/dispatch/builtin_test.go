package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinHandlers(t *testing.T) {
	testcases := []struct {
		name      string
		eventType string
		payload   string
		expected  Result
	}{
		{
			name:      "pushMinimal",
			eventType: EventTypePush,
			payload:   `{"repository": {"full_name": "o/r"}, "pusher": {"name": "alice"}, "ref": "refs/heads/main"}`,
			expected: Result{
				KeyStatus:     StatusProcessed,
				KeyEventType:  EventTypePush,
				"repository":  "o/r",
				"pusher":      "alice",
				"ref":         "refs/heads/main",
				"commits":     0,
				"head_commit": Unknown,
			},
		},
		{
			name:      "pushMissingPusher",
			eventType: EventTypePush,
			payload:   `{"repository": {"full_name": "o/r"}, "ref": "refs/tags/v1", "commits": [{}, {}], "head_commit": {"id": "abc"}}`,
			expected: Result{
				KeyStatus:     StatusProcessed,
				KeyEventType:  EventTypePush,
				"repository":  "o/r",
				"pusher":      Unknown,
				"ref":         "refs/tags/v1",
				"commits":     2,
				"head_commit": "abc",
			},
		},
		{
			name:      "pushNullFields",
			eventType: EventTypePush,
			payload:   `{"repository": null, "pusher": {"name": null}, "head_commit": null}`,
			expected: Result{
				KeyStatus:     StatusProcessed,
				KeyEventType:  EventTypePush,
				"repository":  Unknown,
				"pusher":      Unknown,
				"ref":         Unknown,
				"commits":     0,
				"head_commit": Unknown,
			},
		},
		{
			name:      "pullRequestOpened",
			eventType: EventTypePullRequest,
			payload: `{"action": "closed", "number": 42, "repository": {"full_name": "o/r"},
				"pull_request": {"title": "fix things", "merged": true}, "sender": {"login": "bob"}}`,
			expected: Result{
				KeyStatus:    StatusProcessed,
				KeyEventType: EventTypePullRequest,
				"repository": "o/r",
				"action":     "closed",
				"number":     42,
				"title":      "fix things",
				"actor":      "bob",
				"merged":     true,
			},
		},
		{
			name:      "pullRequestEmpty",
			eventType: EventTypePullRequest,
			payload:   `{}`,
			expected: Result{
				KeyStatus:    StatusProcessed,
				KeyEventType: EventTypePullRequest,
				"repository": Unknown,
				"action":     Unknown,
				"number":     0,
				"title":      Unknown,
				"actor":      Unknown,
				"merged":     false,
			},
		},
		{
			name:      "issuesOpened",
			eventType: EventTypeIssues,
			payload: `{"action": "opened", "issue": {"number": 7, "title": "broken"},
				"repository": {"full_name": "o/r"}, "sender": {"login": "carol"}}`,
			expected: Result{
				KeyStatus:    StatusProcessed,
				KeyEventType: EventTypeIssues,
				"repository": "o/r",
				"action":     "opened",
				"number":     7,
				"title":      "broken",
				"actor":      "carol",
			},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t)

			res, err := d.Dispatch(context.Background(), tc.eventType, []byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res)
		})
	}
}

func TestBuiltinHandlersRejectUnexpectedTypes(t *testing.T) {
	testcases := []struct {
		name        string
		eventType   string
		payload     string
		expectedErr string
	}{
		{
			name:        "repositoryIsString",
			eventType:   EventTypePush,
			payload:     `{"repository": "o/r"}`,
			expectedErr: "field repository: expected an object, got string",
		},
		{
			name:        "pusherNameIsNumber",
			eventType:   EventTypePush,
			payload:     `{"pusher": {"name": 1}}`,
			expectedErr: "field pusher.name: expected string, got number",
		},
		{
			name:        "commitsIsObject",
			eventType:   EventTypePush,
			payload:     `{"commits": {}}`,
			expectedErr: "field commits: expected array, got object",
		},
		{
			name:        "numberIsString",
			eventType:   EventTypePullRequest,
			payload:     `{"number": "42"}`,
			expectedErr: "field number: expected number, got string",
		},
		{
			name:        "numberIsFraction",
			eventType:   EventTypeIssues,
			payload:     `{"issue": {"number": 1.5}}`,
			expectedErr: "field issue.number: expected an integer, got 1.5",
		},
		{
			name:        "numberOverflowsInt",
			eventType:   EventTypePullRequest,
			payload:     `{"number": 1e300}`,
			expectedErr: "field number: expected an integer, got 1e+300",
		},
		{
			name:        "mergedIsString",
			eventType:   EventTypePullRequest,
			payload:     `{"pull_request": {"merged": "yes"}}`,
			expectedErr: "field pull_request.merged: expected boolean, got string",
		},
		{
			name:        "issueIsArray",
			eventType:   EventTypeIssues,
			payload:     `{"issue": []}`,
			expectedErr: "field issue: expected an object, got array",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t)

			_, err := d.Dispatch(context.Background(), tc.eventType, []byte(tc.payload))

			var hErr *HandlerError
			require.ErrorAs(t, err, &hErr)
			assert.EqualError(t, hErr.Err, tc.expectedErr)
		})
	}
}
