// Package notifications delivers operational events to an ntfy-compatible
// webhook endpoint. Without a configured webhook URL every notification is a
// noop, so callers never need to guard their sends.
package notifications
