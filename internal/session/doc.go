// Package session owns a controlled Firefox process and the Marionette
// session negotiated with it. A Session is started headless with a throwaway
// profile and is torn down completely by Close, whatever state it reached.
package session
