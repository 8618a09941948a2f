package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/overtake.report/internal/config"
	"github.com/banshee-data/overtake.report/internal/fsutil"
	"github.com/banshee-data/overtake.report/internal/gps"
	"github.com/banshee-data/overtake.report/internal/monitoring"
	"github.com/banshee-data/overtake.report/internal/recording"
	"github.com/banshee-data/overtake.report/internal/serialmux"
	"github.com/banshee-data/overtake.report/internal/timeutil"
	"github.com/banshee-data/overtake.report/internal/units"
)

type recordFlags struct {
	port      string
	baud      int
	gpsPort   string
	gpsBaud   int
	handlebar int
	logDir    string
	duration  time.Duration
}

func newRecordCmd(root *rootOptions) *cobra.Command {
	var f recordFlags

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a trip until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			f.apply(cmd, cfg)

			sensor, err := openSensor(cfg)
			if err != nil {
				return err
			}
			defer sensor.Close()

			var fixes io.ReadCloser
			if p := cfg.GetGPSPort(); p != "" {
				port, err := serialmux.NewRealSerialPortFactory().Open(p, serialmux.PortOptions{BaudRate: cfg.GetGPSBaud()})
				if err != nil {
					return fmt.Errorf("open GPS receiver: %w", err)
				}
				fixes = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if f.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.duration)
				defer cancel()
			}

			summary, err := runRecord(ctx, recordDeps{
				cfg:    cfg,
				clock:  timeutil.RealClock{},
				fs:     fsutil.OSFileSystem{},
				store:  store,
				sensor: sensor,
				gps:    fixes,
			})
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary, cfg)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.port, "port", "", "sensor serial port (empty records location only)")
	cmd.Flags().IntVar(&f.baud, "baud", 0, "sensor baud rate")
	cmd.Flags().StringVar(&f.gpsPort, "gps-port", "", "NMEA GPS receiver serial port")
	cmd.Flags().IntVar(&f.gpsBaud, "gps-baud", 0, "GPS receiver baud rate")
	cmd.Flags().IntVar(&f.handlebar, "handlebar", 0, "handlebar width in cm")
	cmd.Flags().StringVar(&f.logDir, "log-dir", "", "directory for trip logs")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long (0 records until interrupted)")
	return cmd
}

// apply overrides config values with the flags set on the command line.
func (f *recordFlags) apply(cmd *cobra.Command, cfg *config.RecorderConfig) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.SerialPort = &f.port
	}
	if flags.Changed("baud") {
		cfg.SerialBaud = &f.baud
	}
	if flags.Changed("gps-port") {
		cfg.GPSPort = &f.gpsPort
	}
	if flags.Changed("gps-baud") {
		cfg.GPSBaud = &f.gpsBaud
	}
	if flags.Changed("handlebar") {
		cm := config.ClampHandlebarWidth(f.handlebar)
		cfg.HandlebarWidthCm = &cm
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = &f.logDir
	}
}

func openSensor(cfg *config.RecorderConfig) (serialmux.SerialMuxInterface, error) {
	path := cfg.GetSerialPort()
	if path == "" {
		log.Printf("no sensor port configured, recording location only")
		return serialmux.NewDisabledSerialMux(), nil
	}
	mux, err := serialmux.NewRealSerialMux(path, serialmux.PortOptions{BaudRate: cfg.GetSerialBaud()})
	if err != nil {
		return nil, fmt.Errorf("open sensor: %w", err)
	}
	log.Printf("reading sensor on %s", path)
	return mux, nil
}

type recordDeps struct {
	cfg    *config.RecorderConfig
	clock  timeutil.Clock
	fs     fsutil.FileSystem
	store  recording.TripStore
	sensor serialmux.SerialMuxInterface
	// gps is optional.
	gps io.ReadCloser
}

// runRecord records one trip until ctx is done, the sensor link ends or the
// log cannot be written.
func runRecord(ctx context.Context, d recordDeps) (*recording.TripSummary, error) {
	rec := recording.New(recording.Options{
		FS:     d.fs,
		Clock:  d.clock,
		Config: d.cfg,
		Store:  d.store,
	})
	if err := rec.Start(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	// Subscribe before monitoring so no chunk is missed.
	id, chunks := d.sensor.Subscribe()
	defer d.sensor.Unsubscribe(id)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := d.sensor.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("failed to monitor sensor: %v", err)
			return
		}
		log.Print("sensor monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				if err := rec.OnTransportBytes(chunk); err != nil {
					fail(err)
					return
				}
			case <-ctx.Done():
				// Take whatever the monitor already queued.
				for {
					select {
					case chunk, ok := <-chunks:
						if !ok {
							return
						}
						if err := rec.OnTransportBytes(chunk); err != nil {
							fail(err)
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	if d.gps != nil {
		reader := &gps.Reader{Clock: d.clock}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reader.Run(ctx, d.gps, func(fix gps.Fix) {
				if err := rec.OnLocation(fix.Location()); err != nil {
					fail(err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				log.Printf("GPS reader stopped: %v", err)
			}
		}()
		// Closing the port unblocks the reader.
		go func() {
			<-ctx.Done()
			d.gps.Close()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := d.clock.NewTicker(d.cfg.GetStatusInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				logStatus(rec.Status(), d.cfg)
				if err := rec.Flush(); err != nil {
					fail(err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if err := rec.Drain(); err != nil && firstErr == nil {
		firstErr = err
	}
	summary, err := rec.Stop()
	if firstErr != nil {
		return summary, firstErr
	}
	return summary, err
}

func logStatus(st recording.Status, cfg *config.RecorderConfig) {
	s := st.Session
	line := fmt.Sprintf("trip %s: %s elapsed, %s, %d records, %d overtakes, %d bytes",
		st.TripID, st.Elapsed.Truncate(time.Second), units.FormatKilometres(st.DistanceMeters),
		s.RecordsEmitted, s.UserInputs, st.BytesWritten)
	if s.HasMedianAtPress {
		line += ", last " + units.FormatDistance(float64(s.LastMedianAtPressCm), cfg.GetUnits())
	}
	if s.FramesDropped > 0 {
		line += fmt.Sprintf(", %d bad frames", s.FramesDropped)
	}
	monitoring.Logf("%s", line)
}

func printSummary(w io.Writer, s *recording.TripSummary, cfg *config.RecorderConfig) {
	_, _ = fmt.Fprintf(w, "trip %s\nlog: %s\nstarted: %s\nduration: %s\ndistance: %s\novertakes: %d\nrecords: %d (%d bytes, %d bad frames)\n",
		s.ID, s.Path, units.FormatTripTime(s.StartedAt, cfg.GetTimezone()),
		(time.Duration(s.DurationSeconds) * time.Second).String(),
		units.FormatKilometres(s.DistanceMeters), s.Overtakes,
		s.Records, s.BytesWritten, s.FramesDropped)
}
