package domain

import "time"

// PushSubscription is a browser endpoint registered by a user.
type PushSubscription struct {
	ID           int64
	UserID       int64
	Endpoint     string
	P256dh       string
	Auth         string
	FailureCount int
	LastSuccess  *time.Time
	CreatedAt    time.Time
}

// NotificationLog records one delivery attempt to a user.
type NotificationLog struct {
	ID            int64
	UserID        int64
	Title         string
	Body          string
	TargetDevices int
	Delivered     int
	Failed        int
	CreatedAt     time.Time
}
