// Package redis archives executions in Redis: a capped list of recent records
// plus a hash holding the newest record of each task.
package redis
