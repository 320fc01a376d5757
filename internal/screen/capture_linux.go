//go:build linux

package screen

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// linuxTool shells out to the first screenshot tool found on PATH.
type linuxTool struct {
	tool string
	args func(path string) []string
}

func (l *linuxTool) name() string { return l.tool }

func (l *linuxTool) captureFile(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, l.tool, l.args(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", l.tool, err, stderr.String())
	}
	return nil
}

// linuxTools are tried in order; grim covers Wayland sessions.
var linuxTools = []linuxTool{
	{tool: "grim", args: func(p string) []string { return []string{p} }},
	{tool: "gnome-screenshot", args: func(p string) []string { return []string{"-f", p} }},
	{tool: "scrot", args: func(p string) []string { return []string{"-o", p} }},
}

func newFallback() fallback {
	for i := range linuxTools {
		if _, err := exec.LookPath(linuxTools[i].tool); err == nil {
			return &linuxTools[i]
		}
	}
	return nil
}
