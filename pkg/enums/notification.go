package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderReady      NotificationType = "order_ready"
	NotificationTypeOrderDelivered  NotificationType = "order_delivered"
	NotificationTypeOrderCancelled  NotificationType = "order_cancelled"
	NotificationTypeRatingPrompt    NotificationType = "rating_prompt"
	NotificationTypeLowStockAlert   NotificationType = "low_stock_alert"
	NotificationTypeExpiryAlert     NotificationType = "expiry_alert"
	NotificationTypeSystemBroadcast NotificationType = "system_broadcast"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderReady,
	NotificationTypeOrderDelivered,
	NotificationTypeOrderCancelled,
	NotificationTypeRatingPrompt,
	NotificationTypeLowStockAlert,
	NotificationTypeExpiryAlert,
	NotificationTypeSystemBroadcast,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
