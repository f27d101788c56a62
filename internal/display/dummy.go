package display

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	Register("dummy", newDummy)
}

// dummy renders to the log; useful to develop without a panel attached.
type dummy struct {
	*Grid
	log zerolog.Logger
}

func newDummy(cfg DriverConfig) (Driver, error) {
	l := cfg.Logger.With().Str("component", "display").Str("driver", "dummy").Logger()
	l.Debug().Msg("initialize dummy display")
	return &dummy{Grid: NewGrid(21, 5, l), log: l}, nil
}

func (d *dummy) MinRefresh() time.Duration { return 15 * time.Second }

func (d *dummy) Update() error {
	format := fmt.Sprintf("DUMMYDISPLAY>|%%-%ds|", d.width)
	for _, line := range d.lines {
		d.log.Info().Msg(fmt.Sprintf(format, line))
	}
	return nil
}

func (d *dummy) Clear() error {
	d.reset()
	d.log.Info().Msg("------ DUMMYDISPLAY CLEAR -------")
	return nil
}

func (d *dummy) Close() error { return nil }
