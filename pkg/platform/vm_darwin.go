// +build darwin

package platform

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
	"github.com/rs/zerolog"

	"github.com/lagoonrun/sandboxd/pkg/log"
)

// VMInstanceName is the Lima instance sandboxd creates and reuses,
// matching original_source/platform/lima.py's fixed VM_NAME.
const VMInstanceName = "sandboxd"

// VMBackend runs sandboxd inside a Lima Linux VM, for hosts (macOS) that
// cannot run nsjail natively. It targets the same agent port and health
// contract as NativeBackend; only how the process gets started differs.
type VMBackend struct {
	instanceName string
	configPath   string
	inst         *store.Instance
	logger       zerolog.Logger
}

// NewVMBackend builds a VMBackend that creates or reuses a Lima instance
// named VMInstanceName, configured from configPath.
func NewVMBackend(configPath string) *VMBackend {
	return &VMBackend{
		instanceName: VMInstanceName,
		configPath:   configPath,
		logger:       log.WithComponent("platform-vm"),
	}
}

// IsAvailable reports whether Lima is installed on this host.
func (v *VMBackend) IsAvailable() bool {
	if _, err := store.Inspect(v.instanceName); err == nil {
		return true
	}
	_, err := exec.LookPath("limactl")
	return err == nil
}

// EnsureRunning creates the Lima instance if needed and starts it,
// mirroring LimaBackend.ensure_running's create-then-start sequence.
func (v *VMBackend) EnsureRunning(ctx context.Context) error {
	inst, err := store.Inspect(v.instanceName)
	if err != nil {
		v.logger.Info().Str("instance", v.instanceName).Msg("creating lima instance")
		if err := v.create(ctx); err != nil {
			return fmt.Errorf("platform: create lima instance: %w", err)
		}
		inst, err = store.Inspect(v.instanceName)
		if err != nil {
			return fmt.Errorf("platform: inspect created lima instance: %w", err)
		}
	}
	v.inst = inst

	if inst.Status == store.StatusRunning {
		return nil
	}

	v.logger.Info().Msg("starting lima instance")
	if err := instance.Start(ctx, inst, "", false); err != nil {
		return fmt.Errorf("platform: start lima instance: %w", err)
	}
	return nil
}

func (v *VMBackend) create(ctx context.Context) error {
	configYAML, err := v.loadOrBuildConfig()
	if err != nil {
		return err
	}
	_, err = instance.Create(ctx, v.instanceName, configYAML, false)
	return err
}

// loadOrBuildConfig reads configPath if the caller supplied one, falling
// back to a minimal default spec otherwise.
func (v *VMBackend) loadOrBuildConfig() ([]byte, error) {
	if v.configPath != "" {
		data, err := os.ReadFile(v.configPath)
		if err != nil {
			return nil, fmt.Errorf("read lima config %s: %w", v.configPath, err)
		}
		return data, nil
	}
	config := v.buildConfig()
	return limayaml.Marshal(&config, false)
}

// buildConfig assembles a minimal Lima VM spec that provisions nsjail and
// leaves the sandboxd binary itself to be started by NativeBackend
// running inside the guest, matching embedded.LimaManager's
// CPUs/Memory/Disk/Provision shape.
func (v *VMBackend) buildConfig() limayaml.LimaYAML {
	cpus := 2
	memory := "2GiB"
	disk := "10GiB"

	return limayaml.LimaYAML{
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Provision: []limayaml.Provision{
			{
				Mode:   limayaml.ProvisionModeSystem,
				Script: "#!/bin/sh\nset -eux\nif ! command -v nsjail >/dev/null; then\n  apt-get update && apt-get install -y nsjail\nfi",
			},
		},
		Message: "sandboxd Lima VM ready",
	}
}

// Stop stops the Lima instance gracefully, escalating to a forced stop if
// needed, matching embedded.LimaManager.Stop's fallback.
func (v *VMBackend) Stop(ctx context.Context) error {
	if v.inst == nil {
		return nil
	}
	if err := instance.StopGracefully(ctx, v.inst, false); err != nil {
		v.logger.Warn().Err(err).Msg("graceful lima stop failed, forcing")
		instance.StopForcibly(v.inst)
	}
	return nil
}
