package server

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

type InterfaceAddrs struct {
	Name  string
	Addrs []string
}

type SystemStatus struct {
	Hostname   string
	BootTime   time.Time
	Uptime     time.Duration
	Load5      float64
	MemFree    uint64
	MemTotal   uint64
	Interfaces []InterfaceAddrs
}

// StatusFunc collects the read-outs shown on the status page.
type StatusFunc func(ctx context.Context) (SystemStatus, error)

// HostStatus reads the status from the running system. Missing pieces are
// left zero.
func HostStatus(ctx context.Context) (SystemStatus, error) {
	var s SystemStatus
	if hi, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = hi.Hostname
		s.BootTime = time.Unix(int64(hi.BootTime), 0)
		s.Uptime = time.Duration(hi.Uptime) * time.Second
	}
	if la, err := load.AvgWithContext(ctx); err == nil {
		s.Load5 = la.Load5
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemFree = vm.Available
		s.MemTotal = vm.Total
	}
	ifs, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return s, err
	}
	for _, i := range ifs {
		ia := InterfaceAddrs{Name: i.Name}
		for _, a := range i.Addrs {
			ia.Addrs = append(ia.Addrs, a.Addr)
		}
		s.Interfaces = append(s.Interfaces, ia)
	}
	return s, nil
}
