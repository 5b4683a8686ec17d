package jobs

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/jpalmerr/pulsefeed/internal/scheduler"
)

// Override adjusts a reference job's registration. Zero fields keep the
// job's defaults.
type Override struct {
	Schedule               string
	RunOnStart             *bool
	PreventManualExecution *bool
	Disabled               bool
}

// Definitions returns the reference jobs with their default schedules.
func (p *Pipeline) Definitions() []scheduler.Definition {
	return []scheduler.Definition{
		{
			Name:       JobDNSHole,
			Schedule:   scheduler.EveryMinute,
			RunOnStart: true,
			Callback:   p.runDNSHole,
		},
		{
			Name:     JobDownloads,
			Schedule: scheduler.EverySeconds(5),
			Callback: p.runDownloads,
		},
		{
			Name:       JobCalendar,
			Schedule:   scheduler.EveryHour,
			RunOnStart: true,
			Callback:   p.runCalendar,
		},
		{
			Name:        JobPing,
			Schedule:    scheduler.EveryMinute,
			BeforeStart: p.clearPingURLs,
			Callback:    p.runPing,
		},
	}
}

// Register applies overrides to the reference jobs and registers them on s.
// It returns the names of the registered jobs. An override for a job that
// does not exist is reported as [ErrUnknownJob].
func Register(s *scheduler.Scheduler, p *Pipeline, overrides map[string]Override) ([]string, error) {
	defs := p.Definitions()
	known := lo.Map(defs, func(d scheduler.Definition, _ int) string { return d.Name })

	for _, name := range lo.Keys(overrides) {
		if !slices.Contains(known, name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
		}
	}

	var registered []string
	for _, def := range defs {
		o, ok := overrides[def.Name]
		if ok {
			if o.Disabled {
				continue
			}
			def = o.apply(def)
		}
		if err := s.Register(def); err != nil {
			return nil, err
		}
		registered = append(registered, def.Name)
	}
	return registered, nil
}

func (o Override) apply(def scheduler.Definition) scheduler.Definition {
	if o.Schedule != "" {
		def.Schedule = o.Schedule
	}
	if o.RunOnStart != nil {
		def.RunOnStart = *o.RunOnStart
	}
	if o.PreventManualExecution != nil {
		def.PreventManualExecution = *o.PreventManualExecution
	}
	return def
}
