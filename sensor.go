package main

import (
	"context"
	"time"
)

// limitBreached interprets a reading against the configured limits.  The
// maximum is checked first; a reading exactly on a bound is in range.
func limitBreached(celsius float64, l TemperatureLimits) (TemperatureAlert, bool) {
	if l.Max != nil && celsius > *l.Max {
		return TemperatureAlert{Celsius: celsius, Limit: *l.Max, Above: true}, true
	}
	if l.Min != nil && celsius < *l.Min {
		return TemperatureAlert{Celsius: celsius, Limit: *l.Min}, true
	}
	return TemperatureAlert{}, false
}

// checkLimits raises an alert through every handler when celsius is out of
// range.  Only the transition into the out-of-range state alerts; readings
// that stay out of range are not repeated until one comes back in range.
func (s *Server) checkLimits(celsius float64, event string, at time.Time) {
	cfg := s.cfgMgr.Get()
	alert, bad := limitBreached(celsius, cfg.TemperatureLimits)

	s.alertMu.Lock()
	already := s.outOfRange
	s.outOfRange = bad
	s.alertMu.Unlock()

	if !bad || already {
		return
	}
	alert.Event = event
	alert.Time = at
	for _, h := range s.alerts {
		if err := h.Send(alert, s.logger); err != nil {
			s.logger.Log("alert handler %s error: %v", h.Name(), err)
		}
	}
}

// monitorTemperature samples the sensor every period until ctx is done.
// Samples share the execution lock with the API, so a running wait delays
// them.
func (s *Server) monitorTemperature(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.execMu.Lock()
			r, err := s.driver.ReadTemperature()
			s.execMu.Unlock()
			if err != nil {
				s.logger.Log("monitor: read temperature: %v", err)
				continue
			}
			s.checkLimits(r.Celsius, "monitor", s.now())
		}
	}
}
