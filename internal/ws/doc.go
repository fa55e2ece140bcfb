// Package ws streams alert events and collector health summaries to
// WebSocket clients. It doubles as a notification sink so alert triggers and
// resolves reach connected dashboards in real time.
package ws
