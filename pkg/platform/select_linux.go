// +build linux

package platform

// Select returns the backend appropriate for this host: NativeBackend on
// Linux.
func Select(binaryPath, cacheDir string) Backend {
	return NewNativeBackend(binaryPath, cacheDir)
}
