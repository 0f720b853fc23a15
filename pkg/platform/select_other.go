// +build !linux,!darwin

package platform

// Select falls back to NativeBackend on hosts that are neither Linux nor
// macOS; IsAvailable will report false since nsjail and Lima are both
// Linux/macOS-specific, but callers still get a non-nil Backend to probe.
func Select(binaryPath, cacheDir string) Backend {
	return NewNativeBackend(binaryPath, cacheDir)
}
