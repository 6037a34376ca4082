// Package notifier delivers alert text to a Telegram chat.
//
// Delivery is either synchronous (SendNow, the caller sees the failure) or
// queued on the alerts lane (Enqueue). Queued messages are attempted once;
// a failed send is audited and dropped.
package notifier
