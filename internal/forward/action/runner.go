// Package action defines the interface of actions that are run when a
// forwarding rule matches a result.
package action

import (
	"context"

	"go.uber.org/zap"
)

//go:generate mockgen -destination=../mocks/runner.go -package=mocks github.com/simplesurance/hookd/internal/forward/action Runner

type Runner interface {
	Run(ctx context.Context) error
	String() string
	LogFields() []zap.Field
}
