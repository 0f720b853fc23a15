// +build darwin

package platform

// Select returns the backend appropriate for this host: VMBackend on
// macOS.
func Select(binaryPath, cacheDir string) Backend {
	return NewVMBackend("")
}
