package display

import (
	"fmt"
	"image"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

func init() {
	Register("ssd1306", openSSD1306)
}

// oled drives an SSD1306 I2C panel with the 7x13 bitmap font.
type oled struct {
	*Grid
	bus   i2c.BusCloser
	dev   *ssd1306.Dev
	img   *image1bit.VerticalLSB
	face  font.Face
	lineH int
	asc   int
}

func openSSD1306(cfg DriverConfig) (Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ssd1306: init periph: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("ssd1306: open i2c bus %q: %w", cfg.I2CBus, err)
	}

	opts := ssd1306.DefaultOpts
	if cfg.Width > 0 {
		opts.W = cfg.Width
	}
	if cfg.Height > 0 {
		opts.H = cfg.Height
	}
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ssd1306: init display: %w", err)
	}

	face := basicfont.Face7x13
	m := face.Metrics()
	cols := opts.W / face.Advance
	rows, lineH := fitRows(opts.H, m.Ascent.Ceil(), m.Height.Ceil())

	l := cfg.Logger.With().Str("component", "display").Str("driver", "ssd1306").Logger()
	l.Info().Int("width_px", opts.W).Int("height_px", opts.H).Int("cols", cols).Int("rows", rows).Msg("display initialized")

	d := &oled{
		Grid:  NewGrid(cols, rows, l),
		bus:   bus,
		dev:   dev,
		img:   image1bit.NewVerticalLSB(dev.Bounds()),
		face:  face,
		lineH: lineH,
		asc:   m.Ascent.Ceil(),
	}
	if err := d.Clear(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// fitRows packs all logical lines into heightPx when every row still holds
// the font ascent; descenders may then touch the row below. Otherwise rows
// get the full font height.
func fitRows(heightPx, ascent, fontHeight int) (rows, lineH int) {
	if lineH = heightPx / NumLines; lineH > ascent {
		return NumLines, lineH
	}
	return min(heightPx/fontHeight, NumLines), fontHeight
}

func (d *oled) MinRefresh() time.Duration { return 100 * time.Millisecond }

func (d *oled) Update() error {
	d.blank()
	drawer := &font.Drawer{
		Dst:  d.img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: d.face,
	}
	for i, line := range d.lines {
		drawer.Dot = fixed.P(0, i*d.lineH+d.asc)
		drawer.DrawString(line)
	}
	return d.dev.Draw(d.dev.Bounds(), d.img, image.Point{})
}

func (d *oled) Clear() error {
	d.reset()
	d.blank()
	return d.dev.Draw(d.dev.Bounds(), d.img, image.Point{})
}

func (d *oled) Close() error {
	var err error
	if d.dev != nil {
		err = d.dev.Halt()
		d.dev = nil
	}
	if d.bus != nil {
		if cerr := d.bus.Close(); err == nil {
			err = cerr
		}
		d.bus = nil
	}
	return err
}

func (d *oled) blank() {
	draw.Draw(d.img, d.img.Bounds(), &image.Uniform{C: image1bit.Off}, image.Point{}, draw.Src)
}
