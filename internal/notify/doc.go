// Package notify defines the notification sink contract and the webhook
// implementation that posts alert trigger/resolve events to Slack, Teams, or
// generic HTTP targets. Delivery is best-effort and never blocks the alert
// engine.
package notify
