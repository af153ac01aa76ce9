package session

import "time"

const (
	// DefaultHandshakeTimeout bounds process start plus session negotiation.
	DefaultHandshakeTimeout = 60 * time.Second

	// gracefulShutdownTimeout is the time allowed for the browser to quit on
	// request before it is killed.
	gracefulShutdownTimeout = 3 * time.Second

	// killWaitTimeout bounds the wait for the process to be reaped after a kill.
	killWaitTimeout = 5 * time.Second

	// quitCommandTimeout bounds the Marionette quit request during Close.
	quitCommandTimeout = 2 * time.Second

	// profilePrefix names the per-session profile directory.
	profilePrefix = "fathom-profile-"

	// userPrefsFile is read by Firefox from the profile on startup.
	userPrefsFile = "user.js"
)

// defaultPrefs keep a fresh headless profile quiet and non-interactive.
var defaultPrefs = map[string]any{
	"app.update.disabledForTesting":              true,
	"browser.shell.checkDefaultBrowser":          false,
	"browser.startup.homepage_override.mstone":   "ignore",
	"datareporting.policy.dataSubmissionEnabled": false,
	"toolkit.startup.max_resumed_crashes":        -1,
	"toolkit.telemetry.reportingpolicy.firstRun": false,
}
