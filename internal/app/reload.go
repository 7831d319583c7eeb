package app

import (
	"context"
	"strings"

	"scrubber/internal/config"
	logx "scrubber/pkg/logx"
)

// reloadLoop applies committed config updates until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.sd.reloading()
			a.apply(last, next)
			last = next
			a.sd.ready()
		}
	}
}

// apply pushes the live-tunable parts of next into running components.
func (a *App) apply(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	loc, err := config.Location(next.Timezone)
	if err == nil {
		err = a.triggers.Apply(triggerSpecs(next), loc)
	}
	if err != nil {
		a.log.Warn("triggers not updated; keeping previous", logx.Err(err))
	}

	a.limiter.SetRate(next.HTTP.RatePerSec, next.HTTP.Burst)

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.Strings("sections", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
