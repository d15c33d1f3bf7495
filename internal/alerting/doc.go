// Package alerting is the business boundary for alert handling. It wraps the
// pure decisions of package alert with identity checks, per-alert locking,
// versioned persistence and post-commit notification. It defines the Service,
// the Store, Locker and Notifier interfaces, and the notification model.
package alerting
