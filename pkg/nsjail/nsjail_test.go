package nsjail

import "testing"

func TestArgsIncludesIsolationFlags(t *testing.T) {
	spec := Spec{
		EnvironmentRoot: "/cache/env-abc",
		WorkDir:         "/cache/env-abc",
		Argv:            []string{"/cache/env-abc/bin/sandboxworker"},
		MemoryMB:        512,
		CPUs:            1,
	}

	args := spec.Args()

	wantContains := []string{
		"--clone_newuser",
		"--clone_newns",
		"--clone_newpid",
		"--clone_newipc",
		"--clone_newuts",
		"--bindmount_ro",
		"/cache/env-abc:/cache/env-abc",
	}
	for _, want := range wantContains {
		found := false
		for _, a := range args {
			if a == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Args() missing %q: %v", want, args)
		}
	}
}

func TestArgsNetworkDisabledByDefault(t *testing.T) {
	spec := Spec{WorkDir: "/x", EnvironmentRoot: "/x"}
	args := spec.Args()
	if !containsFlag(args, "--disable_clone_newnet=false") {
		t.Errorf("expected network namespace to stay cloned (isolated) by default: %v", args)
	}
}

func TestArgsNetworkAllowed(t *testing.T) {
	spec := Spec{WorkDir: "/x", EnvironmentRoot: "/x", AllowNetwork: true}
	args := spec.Args()
	if !containsFlag(args, "--disable_clone_newnet=true") {
		t.Errorf("expected network namespace clone to be disabled when AllowNetwork: %v", args)
	}
}

func TestIsAvailableUnknownBinary(t *testing.T) {
	if IsAvailable("sandboxd-nsjail-does-not-exist") {
		t.Error("IsAvailable should be false for a nonexistent binary")
	}
}

func containsFlag(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
