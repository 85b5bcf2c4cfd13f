package logging

import (
	"context"
)

const (
	RequestIDKey   = "request_id"
	WebhookIDKey   = "webhook_id"
	ServiceNameKey = "service_name"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithWebhookID(ctx context.Context, webhookID string) context.Context {
	return context.WithValue(ctx, WebhookIDKey, webhookID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func GetWebhookID(ctx context.Context) string {
	if webhookID, ok := ctx.Value(WebhookIDKey).(string); ok {
		return webhookID
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	if webhookID := GetWebhookID(ctx); webhookID != "" {
		fields = append(fields, "webhook_id", webhookID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
