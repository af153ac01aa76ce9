package session

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// createProfile makes a fresh profile directory under dir whose prefs enable
// Marionette on port.
func createProfile(dir string, port int) (string, error) {
	profileDir, err := os.MkdirTemp(dir, profilePrefix)
	if err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}

	prefs := make(map[string]any, len(defaultPrefs)+1)
	for k, v := range defaultPrefs {
		prefs[k] = v
	}
	prefs["marionette.port"] = port

	content, err := renderPrefs(prefs)
	if err != nil {
		os.RemoveAll(profileDir)
		return "", err
	}
	if err := os.WriteFile(filepath.Join(profileDir, userPrefsFile), []byte(content), 0o644); err != nil {
		os.RemoveAll(profileDir)
		return "", fmt.Errorf("write prefs: %w", err)
	}
	return profileDir, nil
}

// renderPrefs formats prefs as user.js lines, sorted by name.
func renderPrefs(prefs map[string]any) (string, error) {
	names := make([]string, 0, len(prefs))
	for name := range prefs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		value, err := json.Marshal(prefs[name])
		if err != nil {
			return "", fmt.Errorf("encode pref %s: %w", name, err)
		}
		fmt.Fprintf(&b, "user_pref(%q, %s);\n", name, value)
	}
	return b.String(), nil
}

// freePort asks the kernel for an unused loopback TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
