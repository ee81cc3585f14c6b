// fujiraw drives the in-camera raw conversion service of Fujifilm X
// bodies over USB. Put the camera in "USB RAW CONVERSION" mode first.
package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/jsorvik/go-fujiraw/config"
	"github.com/jsorvik/go-fujiraw/log"
	"github.com/jsorvik/go-fujiraw/profile"
	"github.com/jsorvik/go-fujiraw/ptp"
	"github.com/jsorvik/go-fujiraw/rawconv"
)

type globals struct {
	Config      string `help:"Path to a fujiraw.toml." type:"path"`
	OutputDir   string `help:"Directory for converted files." type:"path"`
	Model       string `help:"Camera model to pick when several are connected (X-T3, ...)."`
	Timeout     int    `help:"USB transfer timeout in milliseconds."`
	Interval    int    `help:"Result poll interval in milliseconds."`
	PollTimeout int    `help:"Result wait deadline in seconds."`
	DebugPTP    bool   `help:"Log protocol traffic."`
	DebugUSB    bool   `help:"Log USB handling."`
	DebugData   bool   `help:"Hexdump all bulk transfers."`
	Verbose     bool   `short:"v" help:"Verbose workflow logging."`
}

// settingsFlags are the development parameter overrides. Unset flags
// leave the camera defaults in place.
type settingsFlags struct {
	FilmSim      string   `help:"Film simulation (provia, velvia, classic-chrome, acros, ...)."`
	Exposure     *float64 `help:"Exposure bias in EV, -5.0 to +5.0."`
	Highlights   *int     `help:"Highlight tone, -4 to +4."`
	Shadows      *int     `help:"Shadow tone, -2 to +4."`
	Color        *int     `help:"Color, -4 to +4."`
	Sharpness    *int     `help:"Sharpness, -4 to +4."`
	NR           *int     `name:"nr" help:"Noise reduction, -4 to +4."`
	Clarity      *int     `help:"Clarity, -5 to +5."`
	WhiteBalance string   `help:"White balance (auto, daylight, temperature, ...)."`
	WBShiftR     *int     `name:"wb-shift-r" help:"White balance red shift, -9 to +9."`
	WBShiftB     *int     `name:"wb-shift-b" help:"White balance blue shift, -9 to +9."`
	WBTemp       *int     `name:"wb-temp" help:"Color temperature in K, with --white-balance=temperature."`
	DynamicRange *int     `help:"Dynamic range percent: 100, 200 or 400."`
	Grain        string   `help:"Grain effect: off, weak or strong."`
	Quality      string   `help:"JPEG quality: fine or normal."`
	Size         string   `help:"Image size (l-3:2, m-16:9, s-1:1, ...)."`
}

// changes turns the set flags into profile parameter overrides.
func (s *settingsFlags) changes() (map[string]int32, error) {
	ch := map[string]int32{}

	named := []struct {
		arg    string
		param  string
		lookup func(string) (int32, error)
	}{
		{s.FilmSim, "FilmSimulation", profile.FilmSimulationCode},
		{s.WhiteBalance, "WhiteBalance", profile.WhiteBalanceCode},
		{s.Grain, "GrainEffect", profile.GrainEffectCode},
		{s.Quality, "ImageQuality", profile.ImageQualityCode},
		{s.Size, "ImageSize", profile.ImageSizeCode},
	}
	for _, n := range named {
		if n.arg == "" {
			continue
		}
		code, err := n.lookup(n.arg)
		if err != nil {
			return nil, err
		}
		ch[n.param] = code
	}

	if s.Exposure != nil {
		ch["ExposureBias"] = int32(math.Round(*s.Exposure * 1000))
	}
	numeric := []struct {
		arg   *int
		param string
	}{
		{s.Highlights, "HighlightTone"},
		{s.Shadows, "ShadowTone"},
		{s.Color, "Color"},
		{s.Sharpness, "Sharpness"},
		{s.NR, "NoiseReduction"},
		{s.Clarity, "Clarity"},
		{s.WBShiftR, "WBShiftR"},
		{s.WBShiftB, "WBShiftB"},
		{s.WBTemp, "WBColorTemp"},
	}
	for _, n := range numeric {
		if n.arg != nil {
			ch[n.param] = int32(*n.arg)
		}
	}
	if s.DynamicRange != nil {
		code, err := profile.DynamicRangeFromPercent(*s.DynamicRange)
		if err != nil {
			return nil, err
		}
		ch["DynamicRange"] = code
	}

	return ch, nil
}

// env is what every command runs against.
type env struct {
	cfg config.Config
	log *log.Children
}

func (e *env) openCamera(model string, timeout int) (*ptp.Device, error) {
	return ptp.SelectDevice(model, timeout, e.log)
}

func (e *env) newConverter(cam rawconv.Camera) *rawconv.Converter {
	conv := rawconv.NewConverter(cam, e.log)
	conv.SetPollInterval(time.Duration(e.cfg.PollInterval) * time.Millisecond)
	conv.Deadline = time.Duration(e.cfg.PollTimeout) * time.Second
	return conv
}

func (e *env) outputPath(input, output string) string {
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		output = base + ".jpg"
	}
	if filepath.IsAbs(output) {
		return output
	}
	return filepath.Join(e.cfg.OutputDir, output)
}

type convertCmd struct {
	settingsFlags
	Input  string `arg:"" help:"Source RAF file." type:"existingfile"`
	Output string `arg:"" optional:"" help:"Destination JPEG. Default: source name with .jpg."`
}

func (cmd *convertCmd) Run(g *globals, e *env) error {
	changes, err := cmd.changes()
	if err != nil {
		return err
	}

	src, err := os.Open(cmd.Input)
	if err != nil {
		return err
	}
	defer src.Close()
	st, err := src.Stat()
	if err != nil {
		return err
	}

	cam, err := e.openCamera(g.Model, e.cfg.USBTimeout)
	if err != nil {
		return err
	}
	defer cam.Close()

	outPath := e.outputPath(cmd.Input, cmd.Output)
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	conv := e.newConverter(cam)
	if err := conv.Convert(src, st.Size(), changes, out); err != nil {
		out.Close()
		os.Remove(outPath)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	e.log.Conv.Infof("wrote %s", outPath)
	return nil
}

type dumpCmd struct {
	Input string `arg:"" optional:"" help:"RAF file to upload before reading the profile." type:"existingfile"`
}

func (cmd *dumpCmd) Run(g *globals, e *env) error {
	cam, err := e.openCamera(g.Model, e.cfg.USBTimeout)
	if err != nil {
		return err
	}
	defer cam.Close()

	var src *os.File
	var size int64
	if cmd.Input != "" {
		src, err = os.Open(cmd.Input)
		if err != nil {
			return err
		}
		defer src.Close()
		st, err := src.Stat()
		if err != nil {
			return err
		}
		size = st.Size()
	}

	conv := e.newConverter(cam)
	var blob []byte
	if src != nil {
		blob, err = conv.CurrentProfile(src, size)
	} else {
		blob, err = conv.CurrentProfile(nil, 0)
	}
	if err != nil {
		return err
	}

	p, err := profile.Parse(blob)
	if err != nil {
		return fmt.Errorf("parsing %d profile bytes: %w", len(blob), err)
	}
	fmt.Print(p.Describe())
	return nil
}

type devicesCmd struct{}

func (cmd *devicesCmd) Run(g *globals, e *env) error {
	found, err := ptp.FindDevices()
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("no supported camera connected")
		return nil
	}
	for _, f := range found {
		fmt.Println(f)
	}
	return nil
}

type serveCmd struct {
	convertCmd
	Listen string `help:"Preview server listen address."`
}

func (cmd *serveCmd) Run(g *globals, e *env) error {
	addr := cmd.Listen
	if addr == "" {
		addr = e.cfg.PreviewListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	changes, err := cmd.changes()
	if err != nil {
		return err
	}
	src, err := os.Open(cmd.Input)
	if err != nil {
		return err
	}
	defer src.Close()
	st, err := src.Stat()
	if err != nil {
		return err
	}

	cam, err := e.openCamera(g.Model, e.cfg.USBTimeout)
	if err != nil {
		return err
	}
	defer cam.Close()

	conv := e.newConverter(cam)
	srv := rawconv.NewPreviewServer(ctx, conv, e.log)
	conv.Observer = srv

	httpServer := &http.Server{Addr: addr, Handler: srv.Mux()}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(srv.Run)
	eg.Go(func() error {
		e.log.Preview.Infof("preview on http://%s", addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return httpServer.Shutdown(shCtx)
	})

	outPath := e.outputPath(cmd.Input, cmd.Output)
	out, err := os.Create(outPath)
	if err != nil {
		stop()
		eg.Wait()
		return err
	}
	convErr := conv.Convert(src, st.Size(), changes, out)
	if convErr != nil {
		out.Close()
		os.Remove(outPath)
		e.log.Conv.Errorf("conversion failed: %s", convErr)
	} else {
		if err := out.Close(); err != nil {
			convErr = err
		}
		e.log.Conv.Infof("wrote %s, serving preview until interrupted", outPath)
	}

	<-ctx.Done()
	stop()
	if err := eg.Wait(); err != nil && convErr == nil {
		convErr = err
	}
	return convErr
}

var cli struct {
	globals

	Convert convertCmd `cmd:"" help:"Upload a RAF file and convert it in camera."`
	Dump    dumpCmd    `cmd:"" help:"Print the camera's current conversion profile."`
	Devices devicesCmd `cmd:"" help:"List connected supported cameras."`
	Serve   serveCmd   `cmd:"" help:"Convert with a websocket preview server attached."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("fujiraw"),
		kong.Description("Remote control for Fujifilm in-camera raw conversion."),
		kong.UsageOnError(),
	)

	cfgPath := cli.Config
	explicit := cfgPath != ""
	if !explicit {
		cfgPath = "fujiraw.toml"
	}
	cfg, err := config.Load(cfgPath, explicit)
	kctx.FatalIfErrorf(err)

	// Flags override the file.
	if cli.OutputDir != "" {
		cfg.OutputDir = cli.OutputDir
	}
	if cli.Timeout > 0 {
		cfg.USBTimeout = cli.Timeout
	}
	if cli.Interval > 0 {
		cfg.PollInterval = cli.Interval
	}
	if cli.PollTimeout > 0 {
		cfg.PollTimeout = cli.PollTimeout
	}

	lg := log.PrepareChildren(log.Root,
		cli.DebugUSB || cfg.Debug.USB,
		cli.DebugPTP || cfg.Debug.PTP,
		cli.DebugData || cfg.Debug.Data,
		cli.Verbose)

	err = kctx.Run(&cli.globals, &env{cfg: cfg, log: lg})
	kctx.FatalIfErrorf(err)
}
