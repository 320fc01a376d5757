//go:build windows

package screen

// Native GDI capture covers every Windows session.
func newFallback() fallback { return nil }
