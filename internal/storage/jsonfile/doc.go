// Package jsonfile archives executions in an append-only JSON-lines file and
// serves reads from the newest records kept in memory. It backs the memory
// history driver.
package jsonfile
