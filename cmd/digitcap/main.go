// Command digitcap previews a DIGIT tactile-sensor camera and records
// timed sequences of frames to disk. Settings persist across runs in a
// JSON preference file.
//
// Examples:
//
//	# List connected DIGIT devices and quit.
//	digitcap -listdevices
//
//	# Connect to the first DIGIT found, 50 frames per capture.
//	digitcap -frames 50
//
//	# Run against a directory of .jpg frames instead of hardware.
//	digitcap -replay ./frames
//
// At the prompt: "c" starts a capture, "i N" sets the LED intensity,
// "s N" selects stream N, "n N" sets frames per capture, "t N" sets the
// interaction number, "d N" sets the countdown seconds, "e" toggles the
// countdown, "o DIR" sets the save directory, "q" quits.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/tactilesense/digitcap"
	"github.com/tactilesense/digitcap/digit"
)

var (
	listDevices bool
	devicePath  string
	replayDir   string
	prefsPath   string
	numFrames   int
	saveDir     string
	verbose     bool
)

func init() {
	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists DIGIT devices and exits")
	flag.StringVar(&devicePath, "device", "", "video node to use, by default the first DIGIT found")
	flag.StringVar(&replayDir, "replay", "", "if set, serve frames from .jpg files in this directory instead of hardware")
	flag.StringVar(&prefsPath, "prefs", "digitcap_prefs.json", "preference file")
	flag.IntVar(&numFrames, "frames", 0, "frames per capture, overriding the preference file")
	flag.StringVar(&saveDir, "dir", "", "save directory, overriding the preference file")
	flag.BoolVar(&verbose, "verbose", false, "print verbose output")
}

func main() {
	log.SetFlags(0)
	flag.Parse()
	os.Exit(main0())
}

func main0() int {
	if listDevices {
		infos, err := digit.List()
		if err != nil {
			log.Printf("listing devices: %v", err)
			return 1
		}
		for _, info := range infos {
			fmt.Printf("%s: %s (%s)\n", info.Path, info.Card, info.BusInfo)
		}
		return 0
	}

	stdin := bufio.NewScanner(os.Stdin)

	session, err := connect()
	for err != nil {
		// Retry-or-exit prompt; connecting is never retried on its own.
		fmt.Printf("Failed to connect to a DIGIT sensor: %v\nRetry? [y/N] ", err)
		if !stdin.Scan() || strings.ToLower(strings.TrimSpace(stdin.Text())) != "y" {
			return 1
		}
		session, err = connect()
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("disconnecting: %v", err)
		}
	}()

	catalog := session.Capabilities().Streams
	if verbose {
		log.Printf("streams: %s", strings.Join(catalog.Strings(), ", "))
	}

	// Switching to the wide mode and back clears sensor-internal state
	// that otherwise glitches the narrow mode's output.
	if wide := catalog.WideIndex(); wide >= 0 {
		if err := session.SetStream(wide); err != nil {
			log.Printf("settle, wide stream: %v", err)
		}
	}
	if def := catalog.DefaultIndex(); def >= 0 {
		if err := session.SetStream(def); err != nil {
			log.Printf("settle, default stream: %v", err)
		}
	}

	prefs := digitcap.LoadPrefs(prefsPath)
	if numFrames > 0 {
		prefs.NumFrames = numFrames
	}
	if saveDir != "" {
		prefs.SaveDir = saveDir
	}
	if prefs.Intensity >= 0 {
		if err := session.SetIntensity(prefs.Intensity); err != nil {
			log.Printf("applying saved intensity %d: %v", prefs.Intensity, err)
		}
	}
	if prefs.StreamIndex >= 0 {
		if err := session.SetStream(prefs.StreamIndex); err != nil {
			log.Printf("applying saved stream %d: %v", prefs.StreamIndex, err)
		}
	}

	loop := digitcap.NewLoop()
	defer loop.Close()

	presenter := &consolePresenter{verbose: verbose, lost: make(chan struct{})}
	orch := digitcap.NewOrchestrator(loop, presenter)
	applyPrefs(orch, prefs)

	pump := digitcap.NewPump(loop, session, orch, presenter, &digitcap.PumpOpts{
		PreviewWidth:  240,
		PreviewHeight: 320,
		Verbose:       verbose,
	})
	loop.Post(pump.Start)
	presenter.ShowStatus(digitcap.StatusReady)

	commands := make(chan string)
	go func() {
		defer close(commands)
		for stdin.Scan() {
			commands <- strings.TrimSpace(stdin.Text())
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	code := 0
run:
	for {
		select {
		case <-signals:
			break run
		case <-presenter.lost:
			// The pump already stopped; check enumeration to tell an
			// unplug apart from a device that stalled mid-stream.
			if session.Connected() {
				fmt.Println("DIGIT stopped streaming but is still attached. Please relaunch.")
			} else {
				fmt.Println("Lost connection to DIGIT. Please reconnect and relaunch.")
			}
			code = 1
			break run
		case cmd, ok := <-commands:
			if !ok || cmd == "q" {
				break run
			}
			loop.Post(func() { runCommand(cmd, session, orch, pump, catalog) })
		}
	}

	loop.Post(pump.Stop)
	loop.Sync()
	savePrefs(session, orch, prefs)
	return code
}

func connect() (digit.Session, error) {
	if replayDir != "" {
		return digit.ConnectReplay(digit.ReplayOpts{Dir: replayDir, Verbose: verbose})
	}
	return digit.ConnectV4L2(digit.V4L2Opts{DevicePath: devicePath, Verbose: verbose})
}

func applyPrefs(orch *digitcap.Orchestrator, prefs digitcap.Prefs) {
	if err := orch.SetNumFrames(prefs.NumFrames); err != nil {
		log.Printf("prefs: %v", err)
	}
	if err := orch.SetInteractionNumber(prefs.InteractionNum); err != nil {
		log.Printf("prefs: %v", err)
	}
	if err := orch.SetCountdownSeconds(prefs.CountdownSeconds); err != nil {
		log.Printf("prefs: %v", err)
	}
	orch.SetCountdownEnabled(prefs.CountdownEnabled)
	orch.SetSaveDirectory(prefs.SaveDir)
}

// savePrefs persists the current settings. Intensity is read back from the
// device and scaled down to the set scale before storing.
func savePrefs(session digit.Session, orch *digitcap.Orchestrator, prefs digitcap.Prefs) {
	if readback, err := session.Intensity(); err == nil {
		prefs.Intensity = digit.ScaleDown(readback)
	} else {
		log.Printf("reading intensity for prefs: %v", err)
	}
	prefs.StreamIndex = session.StreamIndex()
	prefs.NumFrames = orch.NumFrames()
	prefs.InteractionNum = orch.InteractionNumber()
	prefs.CountdownSeconds = orch.CountdownSeconds()
	prefs.CountdownEnabled = orch.CountdownEnabled()
	prefs.SaveDir = orch.SaveDirectory()
	digitcap.SavePrefs(prefsPath, prefs)
}

func runCommand(cmd string, session digit.Session, orch *digitcap.Orchestrator, pump *digitcap.Pump, catalog *digit.Catalog) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return
	}
	arg := func() int {
		if len(fields) < 2 {
			return -1
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return -1
		}
		return n
	}

	switch fields[0] {
	case "c":
		if err := orch.StartCapture(); err != nil {
			log.Printf("capture: %v", err)
		}
	case "i":
		if err := session.SetIntensity(arg()); err != nil {
			log.Printf("set intensity: %v", err)
		}
	case "s":
		index := arg()
		if err := session.SetStream(index); err != nil {
			log.Printf("set stream: %v", err)
			return
		}
		if opt, err := catalog.At(index); err == nil {
			pump.SetFrameRate(opt.FPS)
		}
	case "n":
		if err := orch.SetNumFrames(arg()); err != nil {
			log.Printf("set frames: %v", err)
		}
	case "t":
		if err := orch.SetInteractionNumber(arg()); err != nil {
			log.Printf("set interaction number: %v", err)
		}
	case "d":
		if err := orch.SetCountdownSeconds(arg()); err != nil {
			log.Printf("set countdown: %v", err)
		}
	case "e":
		orch.SetCountdownEnabled(!orch.CountdownEnabled())
		log.Printf("countdown enabled: %v", orch.CountdownEnabled())
	case "o":
		if len(fields) < 2 {
			log.Printf("set save dir: missing directory")
			return
		}
		orch.SetSaveDirectory(strings.Join(fields[1:], " "))
	default:
		log.Printf("unknown command %q (c, i N, s N, n N, t N, d N, e, o DIR, q)", cmd)
	}
}

// consolePresenter renders core reports as log lines. A GUI would mirror
// the same calls into widgets.
type consolePresenter struct {
	verbose  bool
	frames   int
	lostOnce sync.Once
	lost     chan struct{}
}

func (p *consolePresenter) ShowStatus(status string) {
	log.Printf("%s", status)
}

func (p *consolePresenter) ShowFrame(img image.Image) {
	p.frames++
	if p.verbose && p.frames%100 == 0 {
		size := img.Bounds().Size()
		log.Printf("live view, %d frames shown (%dx%d)", p.frames, size.X, size.Y)
	}
}

func (p *consolePresenter) SetControlsEnabled(enabled bool) {
	if p.verbose {
		log.Printf("controls enabled: %v", enabled)
	}
}

func (p *consolePresenter) DeviceLost() {
	p.lostOnce.Do(func() { close(p.lost) })
}
