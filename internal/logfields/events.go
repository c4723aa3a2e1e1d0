package logfields

import "go.uber.org/zap"

// EventProvider is the name of the platform that sent a webhook.
func EventProvider(val string) zap.Field {
	return zap.String("event_provider", val)
}

// Event identifies what happened in a log message, values are snake_case.
func Event(val string) zap.Field {
	return zap.String("event", val)
}

func Rule(val string) zap.Field {
	return zap.String("forward.rule", val)
}
