//go:build darwin

package screen

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

type darwinTool struct{}

func (darwinTool) name() string { return "screencapture" }

func (darwinTool) captureFile(ctx context.Context, path string) error {
	// -x: no sound
	cmd := exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("screencapture: %w: %s", err, stderr.String())
	}
	return nil
}

func newFallback() fallback { return darwinTool{} }
