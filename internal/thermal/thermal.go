// Package thermal tracks the CPU temperature through a four-zone
// escalation state machine. Zones escalate at most one step per cycle
// (the emergency ceiling excepted) and de-escalate against a hysteresis
// margin so readings hovering around a boundary cannot flap the zone.
package thermal

import (
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/powerctl/internal/hardware"
	"codeberg.org/mutker/powerctl/internal/power"
)

type Zone int

const (
	ZoneComfort Zone = iota
	ZoneWarning
	ZoneCritical
	ZoneEmergency
)

var zoneNames = map[Zone]string{
	ZoneComfort:   "comfort",
	ZoneWarning:   "warning",
	ZoneCritical:  "critical",
	ZoneEmergency: "emergency",
}

func (z Zone) String() string {
	if name, ok := zoneNames[z]; ok {
		return name
	}

	return fmt.Sprintf("zone(%d)", int(z))
}

func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// ParseZone resolves a zone name
func ParseZone(s string) (Zone, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for zone, name := range zoneNames {
		if name == s {
			return zone, true
		}
	}

	return ZoneComfort, false
}

// State is the controller's position in the zone ladder
type State struct {
	Zone            Zone      `json:"zone"`
	EscalationCount int       `json:"escalation_count"`
	LastTransition  time.Time `json:"last_transition"`
}

// Config tunes the state machine. Zero values fall back to the
// defaults the daemon ships with.
type Config struct {
	Limits           hardware.ThermalLimits
	HysteresisMargin int
	EscalationLimit  int
	BaseProfile      power.Profile
}

// Decision is the outcome of one evaluation cycle
type Decision struct {
	State        State
	Profile      power.Profile
	NicePriority int
	Alerts       []string
	Notice       string
	Transitioned bool
}

const (
	defaultHysteresisMargin = 3
	defaultEscalationLimit  = 3

	// consecutive cool cycles required to leave the emergency zone
	emergencyCoolCycles = 2

	niceWarning      = 5
	niceCriticalBase = 10
	niceCriticalStep = 2
	niceMax          = 19
)

// Controller holds the escalation state between cycles. It is driven by
// a single evaluation loop and is not safe for concurrent use.
type Controller struct {
	cfg   Config
	state State

	coolStreak int
	inOutage   bool
}

func NewController(cfg Config) *Controller {
	if cfg.HysteresisMargin <= 0 {
		cfg.HysteresisMargin = defaultHysteresisMargin
	}
	if cfg.EscalationLimit <= 0 {
		cfg.EscalationLimit = defaultEscalationLimit
	}
	if cfg.BaseProfile == "" {
		cfg.BaseProfile = power.Performance
	}

	return &Controller{cfg: cfg}
}

func (c *Controller) State() State {
	return c.state
}

// Evaluate advances the state machine by one cycle. temp is nil when no
// temperature could be read; the zone and escalation count then hold,
// with a notice surfaced once per outage.
func (c *Controller) Evaluate(temp *float64, at time.Time) Decision {
	if temp == nil {
		return c.holdForOutage()
	}

	t := *temp
	if c.inOutage {
		c.inOutage = false
	}

	prev := c.state.Zone
	next := c.nextZone(t)

	transitioned := next != prev
	if transitioned {
		c.state.LastTransition = at
	}
	c.state.Zone = next

	if next == ZoneComfort {
		c.state.EscalationCount = 0
	} else {
		c.state.EscalationCount++
	}

	decision := Decision{
		State:        c.state,
		Profile:      c.profileFor(next),
		NicePriority: c.niceFor(next),
		Transitioned: transitioned,
	}
	if transitioned {
		decision.Alerts = append(decision.Alerts,
			fmt.Sprintf("thermal zone %s -> %s at %.1f°C", prev, next, t))
	}
	if t >= float64(c.cfg.Limits.Emergency) {
		decision.Alerts = append(decision.Alerts,
			fmt.Sprintf("temperature %.1f°C at or above emergency ceiling %d°C", t, c.cfg.Limits.Emergency))
	}

	return decision
}

func (c *Controller) holdForOutage() Decision {
	c.coolStreak = 0

	decision := Decision{
		State:        c.state,
		Profile:      c.profileFor(c.state.Zone),
		NicePriority: c.niceFor(c.state.Zone),
	}
	if !c.inOutage {
		c.inOutage = true
		decision.Notice = "temperature sensors unavailable, holding thermal zone"
	}

	return decision
}

// nextZone applies the movement rules: the emergency ceiling overrides
// everything, escalation otherwise climbs one zone per cycle, and
// de-escalation descends one zone per cycle once the reading clears the
// boundary by the hysteresis margin.
func (c *Controller) nextZone(t float64) Zone {
	limits := c.cfg.Limits
	margin := float64(c.cfg.HysteresisMargin)

	if t >= float64(limits.Emergency) {
		c.coolStreak = 0

		return ZoneEmergency
	}

	switch c.state.Zone {
	case ZoneComfort:
		if t >= float64(limits.Comfort) {
			return ZoneWarning
		}
	case ZoneWarning:
		if t >= float64(limits.Warning) {
			return ZoneCritical
		}
		if t < float64(limits.Comfort)-margin {
			return ZoneComfort
		}
	case ZoneCritical:
		if t >= float64(limits.Critical) || c.state.EscalationCount > c.cfg.EscalationLimit {
			c.coolStreak = 0

			return ZoneEmergency
		}
		if t < float64(limits.Warning)-margin {
			return ZoneWarning
		}
	case ZoneEmergency:
		if t < float64(limits.Critical)-margin {
			c.coolStreak++
			if c.coolStreak >= emergencyCoolCycles {
				c.coolStreak = 0

				return ZoneCritical
			}
		} else {
			c.coolStreak = 0
		}
	}

	return c.state.Zone
}

func (c *Controller) profileFor(zone Zone) power.Profile {
	return ZoneProfile(zone, c.cfg.BaseProfile)
}

func (c *Controller) niceFor(zone Zone) int {
	return ZoneNice(zone, c.state.EscalationCount)
}

// Classify maps a temperature to the zone whose band contains it,
// ignoring stepping and hysteresis. Each limit is the upper bound of
// its own zone.
func Classify(limits hardware.ThermalLimits, t float64) Zone {
	switch {
	case t < float64(limits.Comfort):
		return ZoneComfort
	case t < float64(limits.Warning):
		return ZoneWarning
	case t < float64(limits.Critical):
		return ZoneCritical
	default:
		return ZoneEmergency
	}
}

// ZoneProfile maps a zone to the power profile it demands. base is the
// profile applied in the comfort zone.
func ZoneProfile(zone Zone, base power.Profile) power.Profile {
	switch zone {
	case ZoneWarning:
		return power.Balanced
	case ZoneCritical:
		return power.PowerSave
	case ZoneEmergency:
		return power.Emergency
	default:
		return base
	}
}

// ZoneNice recommends a scheduling priority for heavy workloads, growing
// with escalation pressure inside the critical zone
func ZoneNice(zone Zone, count int) int {
	switch zone {
	case ZoneWarning:
		return niceWarning
	case ZoneCritical:
		nice := niceCriticalBase + niceCriticalStep*count
		if nice > niceMax {
			nice = niceMax
		}

		return nice
	case ZoneEmergency:
		return niceMax
	default:
		return 0
	}
}
