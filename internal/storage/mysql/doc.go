// Package mysql archives executions in MySQL, applying the embedded schema
// migrations on connect.
package mysql
