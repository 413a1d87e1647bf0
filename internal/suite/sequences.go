package suite

import (
	"context"
	"fmt"
	"time"
)

// OnOffCycles switches every listed module on, checks, switches them off
// and checks again, Cycles times.
type OnOffCycles struct {
	Modules []int
	Cycles  int
	WaitMS  int
}

func (s OnOffCycles) Name() string { return "Ciclos de Encendido/Apagado" }

func (s OnOffCycles) Description() string {
	return fmt.Sprintf("Prueba de %d ciclos de encendido/apagado para los módulos %v", s.Cycles, s.Modules)
}

func (s OnOffCycles) Run(ctx context.Context, c Controller, r *Result) bool {
	initial, ok := c.Status(ctx)
	r.Record("Verificación estado inicial", ok, statusValue(initial, ok), "")

	pass := true
	for cycle := 1; cycle <= s.Cycles; cycle++ {
		if ctx.Err() != nil {
			r.Record(fmt.Sprintf("Ciclo %d", cycle), false, nil, ctx.Err().Error())
			return false
		}
		for _, m := range s.Modules {
			ok := c.TurnOn(ctx, m)
			r.Record(fmt.Sprintf("Ciclo %d - Encendido módulo %d", cycle, m), ok, nil, "")
			pass = pass && ok
		}
		c.Wait(ctx, s.WaitMS)
		if st, ok := c.Status(ctx); ok {
			all := true
			for _, m := range s.Modules {
				all = all && st[m]
			}
			r.Record(fmt.Sprintf("Ciclo %d - Verificación encendido", cycle), all, st, "")
			pass = pass && all
		}

		for _, m := range s.Modules {
			ok := c.TurnOff(ctx, m)
			r.Record(fmt.Sprintf("Ciclo %d - Apagado módulo %d", cycle, m), ok, nil, "")
			pass = pass && ok
		}
		c.Wait(ctx, s.WaitMS)
		if st, ok := c.Status(ctx); ok {
			none := true
			for _, m := range s.Modules {
				if on, known := st[m]; !known || on {
					none = false
				}
			}
			r.Record(fmt.Sprintf("Ciclo %d - Verificación apagado", cycle), none, st, "")
			pass = pass && none
		}
	}
	return pass
}

// TemperatureCheck takes Readings samples and requires each one to fall in
// [Min, Max].
type TemperatureCheck struct {
	Min        float64
	Max        float64
	Readings   int
	IntervalMS int
}

func (s TemperatureCheck) Name() string { return "Monitoreo de Temperatura" }

func (s TemperatureCheck) Description() string {
	return fmt.Sprintf("Prueba de %d mediciones de temperatura con umbrales %.1f°C-%.1f°C", s.Readings, s.Min, s.Max)
}

// TemperatureStats is recorded as the value of the final step.
type TemperatureStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

func (s TemperatureCheck) Run(ctx context.Context, c Controller, r *Result) bool {
	pass := true
	var temps []float64
	for i := 1; i <= s.Readings; i++ {
		if ctx.Err() != nil {
			r.Record(fmt.Sprintf("Medición %d/%d", i, s.Readings), false, nil, ctx.Err().Error())
			return false
		}
		event := fmt.Sprintf("Medición %d/%d", i, s.Readings)
		t, ok := c.Temperature(ctx, event)
		if !ok {
			r.Record(event, false, nil, "Error al leer temperatura")
			pass = false
		} else {
			in := s.Min <= t && t <= s.Max
			rng := "Dentro de rango"
			if !in {
				rng = "Fuera de rango"
			}
			r.Record(event, in, t, fmt.Sprintf("Temperatura: %.2f°C - %s", t, rng))
			pass = pass && in
			temps = append(temps, t)
		}
		if i < s.Readings {
			c.Wait(ctx, s.IntervalMS)
		}
	}
	if len(temps) > 0 {
		st := TemperatureStats{Min: temps[0], Max: temps[0]}
		sum := 0.0
		for _, t := range temps {
			st.Min = min(st.Min, t)
			st.Max = max(st.Max, t)
			sum += t
		}
		st.Avg = sum / float64(len(temps))
		r.Record("Estadísticas", true, st,
			fmt.Sprintf("Min: %.2f°C, Max: %.2f°C, Promedio: %.2f°C", st.Min, st.Max, st.Avg))
	}
	return pass
}

// Stress cycles the modules through two switching patterns until Duration
// has elapsed.  At least one cycle always runs.
type Stress struct {
	Duration   time.Duration
	IntervalMS int
	Modules    int
}

func (s Stress) Name() string { return "Prueba de Estrés" }

func (s Stress) Description() string {
	return fmt.Sprintf("Prueba de estrés de %.0f segundos con cambios cada %dms", s.Duration.Seconds(), s.IntervalMS)
}

func (s Stress) modules() int {
	if s.Modules <= 0 {
		return 3
	}
	return s.Modules
}

func (s Stress) allOff(ctx context.Context, c Controller) {
	for m := 1; m <= s.modules(); m++ {
		c.TurnOff(ctx, m)
	}
}

func (s Stress) Run(ctx context.Context, c Controller, r *Result) bool {
	n := s.modules()
	start := time.Now()
	end := start.Add(s.Duration)
	pass := true

	s.allOff(ctx, c)
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			r.Record("Error en prueba de estrés", false, nil, ctx.Err().Error())
			pass = false
			break
		}

		// sequential on, then sequential off
		for m := 1; m <= n; m++ {
			ok := c.TurnOn(ctx, m)
			r.Record(fmt.Sprintf("Ciclo %d - Encendido secuencial %d", cycle, m), ok, nil, "")
			pass = pass && ok
			c.Wait(ctx, s.IntervalMS)
		}
		t, ok := c.Temperature(ctx, fmt.Sprintf("Ciclo %d - Temperatura con todos encendidos", cycle))
		var tv any
		if ok {
			tv = t
		}
		r.Record(fmt.Sprintf("Ciclo %d - Temperatura", cycle), ok, tv, "")
		for m := 1; m <= n; m++ {
			ok := c.TurnOff(ctx, m)
			r.Record(fmt.Sprintf("Ciclo %d - Apagado secuencial %d", cycle, m), ok, nil, "")
			pass = pass && ok
			c.Wait(ctx, s.IntervalMS)
		}

		// odd modules on, even off
		for m := 1; m <= n; m += 2 {
			c.TurnOn(ctx, m)
		}
		c.Wait(ctx, s.IntervalMS)
		if st, ok := c.Status(ctx); ok {
			match := true
			for m := 1; m <= n; m++ {
				on, known := st[m]
				if !known || on != (m%2 == 1) {
					match = false
				}
			}
			r.Record(fmt.Sprintf("Ciclo %d - Patrón alternado", cycle), match, st, "")
			pass = pass && match
		}
		s.allOff(ctx, c)
		c.Wait(ctx, s.IntervalMS)

		if !time.Now().Before(end) {
			break
		}
	}
	s.allOff(ctx, c)
	r.log.Info(fmt.Sprintf("Duración: %.2fs", time.Since(start).Seconds()))
	return pass
}

func statusValue(st map[int]bool, ok bool) any {
	if !ok {
		return nil
	}
	return st
}
