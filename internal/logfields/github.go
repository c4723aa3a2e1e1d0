package logfields

import "go.uber.org/zap"

func DeliveryID(val string) zap.Field {
	return zap.String("github.delivery_id", val)
}

func WebhookType(val string) zap.Field {
	return zap.String("github.webhook_type", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func Ref(val string) zap.Field {
	return zap.String("git.ref", val)
}

func Actor(val string) zap.Field {
	return zap.String("github.actor", val)
}

func ResultStatus(val string) zap.Field {
	return zap.String("result_status", val)
}
