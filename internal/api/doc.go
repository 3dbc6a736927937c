// Package api exposes the agent over HTTP: synchronous execution, queued
// task submission and inspection, capability discovery, history and health.
package api
