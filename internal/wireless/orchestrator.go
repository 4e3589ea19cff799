// Package wireless reconciles the device's access point and upstream
// station connection with the persisted settings by driving NetworkManager.
package wireless

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pavelaron/pi-extender/internal/metrics"
	"github.com/pavelaron/pi-extender/internal/shell"
	"github.com/pavelaron/pi-extender/internal/store"
)

// Step names.
const (
	StepHotspot   = "hotspot"
	StepPowerSave = "power_save_off"
	StepUpstream  = "upstream_connect"
	StepReboot    = "reboot"
	StepRedirect  = "http_redirect"
)

const DefaultRebootDelay = 5 * time.Second

type Orchestrator struct {
	store   store.Store
	run     shell.Runner
	log     zerolog.Logger
	metrics *metrics.Metrics

	RebootDelay time.Duration
}

func New(st store.Store, run shell.Runner, m *metrics.Metrics, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:       st,
		run:         run,
		metrics:     m,
		log:         log.With().Str("component", "wireless").Logger(),
		RebootDelay: DefaultRebootDelay,
	}
}

// exec issues cmd and records the outcome as step name. A failure is
// logged and reported, never returned. Cancelling ctx does not stop a
// step once issued; only the executor's own timeout does.
func (o *Orchestrator) exec(ctx context.Context, rep *Report, name string, cmd Command) shell.Result {
	res, err := o.run.Run(context.WithoutCancel(ctx), cmd.Name, cmd.Args...)
	o.metrics.Command(cmd.Name, err)
	st := Step{Name: name, Command: cmd.String(), Skipped: res.Skipped, Err: err}
	if err != nil {
		o.log.Warn().Err(err).Str("step", name).Msg("command failed, continuing")
	}
	rep.add(st)
	return res
}

// Reconcile brings up the access point and then, when upstream credentials
// are stored, joins the upstream network. It is safe to run against any
// persisted state. The error is non-nil only when settings cannot be read.
func (o *Orchestrator) Reconcile(ctx context.Context) (Report, error) {
	s, err := LoadSettings(o.store)
	if err != nil {
		return Report{}, err
	}
	rep := o.reconcileAccessPoint(ctx, s)
	rep.merge(o.ConnectUpstream(ctx, s.SourceSSID, s.SourcePassword))
	o.log.Info().Int("failures", rep.Failures()).Str("steps", rep.String()).Msg("reconciled")
	return rep, nil
}

// ReconcileAccessPoint creates the hotspot from stored (or default)
// settings and disables power saving on its interface.
func (o *Orchestrator) ReconcileAccessPoint(ctx context.Context) (Report, error) {
	s, err := LoadSettings(o.store)
	if err != nil {
		return Report{}, err
	}
	return o.reconcileAccessPoint(ctx, s), nil
}

func (o *Orchestrator) reconcileAccessPoint(ctx context.Context, s Settings) Report {
	var rep Report
	o.exec(ctx, &rep, StepHotspot, HotspotCommand(s.APInterface, s.APSSID, s.APPassword))
	// power saving drops clients on many chipsets; reapply after every hotspot (re)creation
	o.exec(ctx, &rep, StepPowerSave, PowerSaveOffCommand(s.APInterface))
	return rep
}

// ConnectUpstream joins ssid as a station. No ssid means the device stays
// AP-only, which is not an error.
func (o *Orchestrator) ConnectUpstream(ctx context.Context, ssid, password string) Report {
	var rep Report
	if ssid == "" {
		o.log.Debug().Msg("no upstream network configured")
		rep.add(Step{Name: StepUpstream, Skipped: true})
		return rep
	}
	o.exec(ctx, &rep, StepUpstream, ConnectCommand(ssid, password))
	return rep
}

// ListInterfaces queries NetworkManager for wifi devices that are
// connected or disconnected. Nothing is cached.
func (o *Orchestrator) ListInterfaces(ctx context.Context) ([]string, error) {
	cmd := DeviceStatusCommand()
	res, err := o.run.Run(ctx, cmd.Name, cmd.Args...)
	o.metrics.Command(cmd.Name, err)
	if err != nil {
		return nil, err
	}
	return ParseDeviceStatus(res.Stdout), nil
}

// ApplySettingsChange validates c, persists its AP fields in one flushed
// batch, then connects upstream, disables power saving on the new AP
// interface and schedules a reboot so the hotspot comes up with the new
// settings. Nothing is written or run when validation fails. Store errors
// are returned before any command is issued.
func (o *Orchestrator) ApplySettingsChange(ctx context.Context, c Change) (Report, error) {
	if err := c.Validate(); err != nil {
		return Report{}, err
	}
	iface := c.APInterface
	if iface == "" {
		cur, err := LoadSettings(o.store)
		if err != nil {
			return Report{}, err
		}
		iface = cur.APInterface
	}

	var b store.Batch
	b.SetString(store.KeyAPSSID, c.APSSID)
	b.SetString(store.KeyAPPassword, c.APPassword)
	b.SetString(store.KeyAPInterface, iface)
	if err := o.store.Apply(&b); err != nil {
		return Report{}, err
	}
	if err := o.store.Flush(); err != nil {
		return Report{}, err
	}
	o.log.Info().Str("ap_ssid", c.APSSID).Str("ap_interface", iface).Msg("wireless settings saved")

	rep := o.ConnectUpstream(ctx, c.SourceSSID, c.SourcePassword)
	o.exec(ctx, &rep, StepPowerSave, PowerSaveOffCommand(iface))
	rep.add(o.rebootStep())
	return rep, nil
}

// ScheduleReboot starts a detached delayed reboot and returns immediately.
func (o *Orchestrator) ScheduleReboot() error {
	return o.rebootStep().Err
}

func (o *Orchestrator) rebootStep() Step {
	cmd := RebootCommand(o.RebootDelay)
	err := o.run.Spawn(cmd.Name, cmd.Args...)
	o.metrics.Command(cmd.Name, err)
	if err != nil {
		o.log.Error().Err(err).Msg("failed to schedule reboot")
	} else {
		o.log.Warn().Dur("delay", o.RebootDelay).Msg("reboot scheduled")
	}
	return Step{Name: StepReboot, Command: cmd.String(), Err: err}
}

// RedirectHTTP installs the NAT rule sending port 80 on the AP interface
// to port, unless it is already present.
func (o *Orchestrator) RedirectHTTP(ctx context.Context, port int) (Report, error) {
	s, err := LoadSettings(o.store)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	check := RedirectCheckCommand(s.APInterface, port)
	res, err := o.run.Run(context.WithoutCancel(ctx), check.Name, check.Args...)
	if err == nil && !res.Skipped {
		rep.add(Step{Name: StepRedirect, Command: check.String(), Skipped: true})
		return rep, nil
	}
	o.exec(ctx, &rep, StepRedirect, RedirectCommand(s.APInterface, port))
	return rep, nil
}
