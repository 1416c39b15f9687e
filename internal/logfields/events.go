package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func CIEventName(val string) zap.Field {
	return zap.String("ci.event_name", val)
}
