//go:build !unix

package session

import (
	"os"
	"os/exec"
)

func configureProcess(*exec.Cmd) {}

func killProcess(p *os.Process) error {
	return p.Kill()
}

func isExecutable(info os.FileInfo) bool {
	return info.Mode().IsRegular()
}
