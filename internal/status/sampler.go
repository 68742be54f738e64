package status

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/opsboard/opsboard/internal/logging"
)

// HostStats is a point-in-time sample of host and process resource usage.
type HostStats struct {
	Hostname       string    `json:"hostname"`
	OS             string    `json:"os"`
	Platform       string    `json:"platform"`
	UptimeSeconds  uint64    `json:"uptime_seconds"`
	NumCPU         int       `json:"num_cpu"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemTotal       uint64    `json:"mem_total"`
	MemUsed        uint64    `json:"mem_used"`
	MemUsedPercent float64   `json:"mem_used_percent"`
	Load1          float64   `json:"load1"`
	Load5          float64   `json:"load5"`
	Load15         float64   `json:"load15"`
	ProcessRSS     uint64    `json:"process_rss"`
	Goroutines     int       `json:"goroutines"`
	SampledAt      time.Time `json:"sampled_at"`
}

// Collect gathers a HostStats sample. Probes that fail leave their fields
// zero; the joined probe errors are returned alongside the partial sample.
func Collect(ctx context.Context) (HostStats, error) {
	s := HostStats{
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  time.Now(),
	}
	var errs []error

	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = info.Hostname
		s.OS = info.OS
		s.Platform = info.Platform
		s.UptimeSeconds = info.Uptime
	} else {
		errs = append(errs, err)
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		errs = append(errs, err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemTotal = vm.Total
		s.MemUsed = vm.Used
		s.MemUsedPercent = vm.UsedPercent
	} else {
		errs = append(errs, err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		errs = append(errs, err)
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSS = mi.RSS
		} else {
			errs = append(errs, err)
		}
	} else {
		errs = append(errs, err)
	}

	return s, errors.Join(errs...)
}

// Sampler refreshes a HostStats snapshot on a fixed interval.
type Sampler struct {
	interval time.Duration
	collect  func(context.Context) (HostStats, error)
	latest   atomic.Pointer[HostStats]
	log      zerolog.Logger
}

func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		interval: interval,
		collect:  Collect,
		log:      logging.Component("sampler"),
	}
}

// Run samples immediately and then every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	s.sample(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	stats, err := s.collect(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("host probe incomplete")
	}
	s.latest.Store(&stats)
}

// Latest returns the most recent sample, if any has been taken.
func (s *Sampler) Latest() (HostStats, bool) {
	p := s.latest.Load()
	if p == nil {
		return HostStats{}, false
	}
	return *p, true
}
