// Package inverter is the output side of the control loop. The default
// provider only logs the commands it receives; a hardware driver implements
// the same interface.
package inverter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Inverter applies decisions to the battery system.
type Inverter interface {
	// Apply executes one decision. Implementations must be safe to call once
	// per tick.
	Apply(ctx context.Context, d types.Decision) error

	Close() error
}

// Configured sets up the inverter provider based on flags.
func Configured() Inverter {
	provider := lflag.String("inverter-provider", "log", "Inverter provider to use (available: log)")

	var p struct{ Inverter }

	lflag.Do(func() {
		switch *provider {
		case "log":
			p.Inverter = &LogInverter{}
		default:
			panic(fmt.Errorf("unknown inverter-provider: %s", *provider))
		}
	})

	return &p
}

// LogInverter records each command without touching hardware.
type LogInverter struct{}

// Apply writes the command to the log stream.
func (i *LogInverter) Apply(ctx context.Context, d types.Decision) error {
	log.Ctx(ctx).InfoContext(ctx, "inverter command",
		slog.String("action", string(d.Action)),
		slog.Float64("powerKW", d.PowerKW),
		slog.Float64("confidence", d.Confidence),
		slog.String("reason", d.Reason))
	return nil
}

func (i *LogInverter) Close() error {
	return nil
}
