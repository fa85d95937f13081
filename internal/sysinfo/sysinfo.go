// Package sysinfo describes the machine the notifier runs on. The hostname
// is stamped on every delivered message so remote sinks can tell machines
// apart, and the full record is served by the status API.
package sysinfo

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// Host is static information about the machine.
type Host struct {
	Hostname        string    `json:"hostname"`
	OS              string    `json:"os"`
	Arch            string    `json:"arch"`
	Platform        string    `json:"platform,omitempty"`
	PlatformVersion string    `json:"platform_version,omitempty"`
	KernelVersion   string    `json:"kernel_version,omitempty"`
	BootTime        time.Time `json:"boot_time,omitempty"`
}

// Collect gathers host information. Fields gopsutil cannot read are left
// empty; the hostname falls back to os.Hostname.
func Collect(ctx context.Context) (*Host, error) {
	info := &Host{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err == nil {
		info.Hostname = hostInfo.Hostname
		info.Platform = hostInfo.Platform
		info.PlatformVersion = hostInfo.PlatformVersion
		info.KernelVersion = hostInfo.KernelVersion
		if hostInfo.BootTime > 0 {
			info.BootTime = time.Unix(int64(hostInfo.BootTime), 0).UTC()
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if info.Hostname == "" {
		name, herr := os.Hostname()
		if herr != nil {
			return info, herr
		}
		info.Hostname = name
	}
	return info, nil
}
