// Package gateway submits scripts to a controlled browser session for
// asynchronous execution and extracts the two-element result they report.
package gateway
