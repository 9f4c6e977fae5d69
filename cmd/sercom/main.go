// cmd/sercom/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sercom/internal/config"
	"sercom/internal/connection"
	"sercom/internal/discovery"
	discoveryserial "sercom/internal/discovery/serial"
	discoveryusb "sercom/internal/discovery/usb"
	"sercom/internal/handler"
	"sercom/internal/model"
	"sercom/internal/monitor"
	"sercom/internal/routes"
	"sercom/internal/utils"
)

// deviceMonitor is either a single session or a multi-device aggregator
type deviceMonitor interface {
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	CloseInput()
	Submit(ctx context.Context, device model.DeviceID, text string) error
	Devices() []monitor.SessionStatus
}

// Application represents the main application
type Application struct {
	config  *config.Config
	viper   *viper.Viper
	options *options
	logger  *zap.Logger
	stdin   io.Reader
	stdout  io.Writer

	console *monitor.ConsoleSink
	stream  *handler.StreamHandler
	scanner *discovery.ScannerManager
	monitor deviceMonitor
	server  *http.Server

	// single device mode only
	defaultDevice model.DeviceID
	prompt        string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run parses args, starts monitoring and blocks until shutdown. It returns
// the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	app, err := NewApplication(args, stdin, stdout, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "sercom: %v\n", err)
		return 1
	}
	defer utils.CloseLogger(app.logger)

	if app.options.list {
		return app.listPorts()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "sercom: %v\n", err)
		return 1
	}

	if err := app.Wait(ctx); err != nil {
		fmt.Fprintf(stderr, "sercom: %v\n", err)
		return 1
	}
	return 0
}

// NewApplication creates a new application instance
func NewApplication(args []string, stdin io.Reader, stdout, stderr io.Writer) (*Application, error) {
	fs, opts := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := config.New()
	if err := bindFlags(v, fs, opts); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		config:  cfg,
		viper:   v,
		options: opts,
		logger:  logger,
		stdin:   stdin,
		stdout:  stdout,
	}

	app.scanner = discovery.NewScannerManager(logger)
	app.scanner.RegisterScanner(discoveryserial.NewScanner(logger))
	app.scanner.RegisterScanner(discoveryusb.NewScanner(logger))

	if opts.list {
		return app, nil
	}

	if err := app.initializeMonitor(); err != nil {
		logger.Error("Failed to initialize monitor", zap.Error(err))
		return nil, err
	}

	if cfg.Server.Enabled {
		app.initializeServer()
	}

	return app, nil
}

// initializeMonitor builds one connection manager per device and either a
// single session or an aggregator over them
func (app *Application) initializeMonitor() error {
	specs := app.config.DeviceSpecs()
	if len(specs) == 0 {
		return errors.New("no serial port given; pass a port, --device or --list")
	}

	multi := len(specs) > 1 || len(app.config.Devices) > 0
	app.console = monitor.NewConsoleSink(app.stdout, monitor.NewFormatter(monitor.FormatOptions{
		Timestamp:  app.config.Terminal.Timestamp,
		Hex:        app.config.Terminal.Hex,
		ShowDevice: multi,
	}))
	app.stream = handler.NewStreamHandler(nil, app.logger)

	sessionConfig := monitor.SessionConfig{
		Timestamps:  app.config.Terminal.Timestamp,
		JoinTimeout: app.config.Session.JoinTimeout,
		InputBuffer: app.config.Session.InputBuffer,
	}

	var sinks monitor.MultiSink = monitor.MultiSink{app.console}
	if app.config.Server.Enabled {
		sinks = append(sinks, app.stream)
	}

	if !multi {
		spec := specs[0]
		status := app.statusFunc(spec)
		conn, err := app.newManager(spec, status)
		if err != nil {
			return err
		}

		app.monitor = &singleDevice{session: monitor.NewSession(conn, sinks, status, sessionConfig, app.logger)}
		app.defaultDevice = spec.ID
		app.prompt = fmt.Sprintf("[%s] %s", spec.Address, app.config.Terminal.Prompt)
		app.stream.SetDirectory(app.monitor)
		return nil
	}

	aggregator := monitor.NewAggregator(monitor.AggregatorConfig{
		QueueSize:    app.config.Monitor.QueueSize,
		IdleInterval: app.config.Monitor.IdleInterval,
		JoinTimeout:  app.config.Session.JoinTimeout,
	}, sinks, app.logger)

	for _, spec := range specs {
		status := app.statusFunc(spec)
		conn, err := app.newManager(spec, status)
		if err != nil {
			return err
		}
		if _, err := aggregator.AddDevice(conn, status, sessionConfig); err != nil {
			return err
		}
	}

	app.monitor = aggregator
	app.prompt = app.config.Terminal.Prompt
	app.stream.SetDirectory(app.monitor)
	return nil
}

func (app *Application) newManager(spec model.DeviceSpec, status connection.StatusFunc) (*connection.Manager, error) {
	return connection.NewManager(spec.ID, connection.Config{
		Identity:    spec.Identity,
		ReadTimeout: app.config.Serial.ReadTimeout,
		ResetOnOpen: app.config.Serial.ResetOnOpen,
		SettleDelay: app.config.Serial.SettleDelay,
		Backoff:     app.config.Reconnect.Backoff,
		MaxAttempts: app.config.Reconnect.MaxAttempts,
	}, app.logger, connection.WithStatusFunc(status))
}

// statusFunc fans a device's status events out to the console, the log and
// any stream clients
func (app *Application) statusFunc(spec model.DeviceSpec) monitor.StatusFunc {
	deviceLogger := utils.NewDeviceLogger(app.logger, spec)
	return func(event model.StatusEvent) {
		app.console.Status(event)
		deviceLogger.LogStatus(event)
		if app.config.Server.Enabled {
			app.stream.Status(event)
		}
	}
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(app.config, app.logger, app.monitor, app.scanner, app.stream)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.server.Addr))
}

// Start opens the devices and starts the pipelines, the operator input
// reader and the HTTP server
func (app *Application) Start(ctx context.Context) error {
	serviceLogger := utils.NewServiceLogger(app.logger, "sercom")
	serviceLogger.LogServiceStart(app.config.App.Version, app.config)

	if err := app.monitor.Start(ctx); err != nil {
		return err
	}

	if app.options.save {
		app.savePreferences()
	}

	if app.server != nil {
		go func() {
			defer utils.LogPanic(app.logger)
			app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
			if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
	}

	go app.readInput(ctx)
	return nil
}

// readInput forwards operator lines to the monitor. End of input ends the
// session.
func (app *Application) readInput(ctx context.Context) {
	defer utils.LogPanic(app.logger)
	app.console.Prompt(app.prompt)

	err := monitor.ScanLines(ctx, app.stdin, func(line string) error {
		device, text := app.defaultDevice, line
		if routed, rest, ok := monitor.SplitRoutedLine(line); ok && app.defaultDevice == "" {
			device, text = routed, rest
		}

		if device == "" {
			app.console.Prompt("expected <device>: <text>\n")
		} else if err := app.monitor.Submit(ctx, device, text); err != nil {
			if errors.Is(err, monitor.ErrInputClosed) {
				return err
			}
			app.console.Prompt(fmt.Sprintf("%v\n", err))
		}

		app.console.Prompt(app.prompt)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, monitor.ErrInputClosed) {
		app.logger.Warn("Operator input failed", zap.Error(err))
	}

	app.monitor.CloseInput()
}

// Wait blocks until a signal arrives or the monitor ends on its own, then
// shuts down. It returns the error that ended the monitor, if any.
func (app *Application) Wait(ctx context.Context) error {
	reason := "monitor ended"
	select {
	case <-ctx.Done():
		reason = "shutdown signal received"
	case <-app.monitor.Done():
	}

	return app.shutdown(reason)
}

// shutdown stops the monitor, then the HTTP server
func (app *Application) shutdown(reason string) error {
	serviceLogger := utils.NewServiceLogger(app.logger, "sercom")
	serviceLogger.LogServiceStop(reason)

	app.monitor.Stop()

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.stream.Close()
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	var errs []error
	for _, status := range app.monitor.Devices() {
		if status.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", status.Device, status.Error))
		}
	}

	app.logger.Info("Application shutdown completed")
	return errors.Join(errs...)
}

// savePreferences persists the port, baud rate and timestamp preference of
// a single device session
func (app *Application) savePreferences() {
	specs := app.config.DeviceSpecs()
	if len(specs) != 1 {
		app.logger.Warn("Preferences are only saved for a single device")
		return
	}

	path := app.viper.ConfigFileUsed()
	if path == "" {
		path = config.DefaultConfigFile
	}

	if err := config.SavePreferences(path, specs[0].Address, specs[0].BaudRate, app.config.Terminal.Timestamp); err != nil {
		app.logger.Error("Failed to save preferences", zap.String("path", path), zap.Error(err))
		return
	}
	app.logger.Info("Preferences saved", zap.String("path", path))
}

// listPorts prints the serial ports present on the host
func (app *Application) listPorts() int {
	ports, err := app.scanner.ScanAll(context.Background())
	if err != nil {
		fmt.Fprintf(app.stdout, "failed to list ports: %v\n", err)
		return 1
	}

	if len(ports) == 0 {
		fmt.Fprintln(app.stdout, "no serial ports found")
		return 0
	}
	for _, port := range ports {
		fmt.Fprintln(app.stdout, port.Description())
	}
	return 0
}

// singleDevice adapts one session to the deviceMonitor interface
type singleDevice struct {
	session *monitor.Session
}

func (d *singleDevice) Start(ctx context.Context) error { return d.session.Start(ctx) }
func (d *singleDevice) Stop()                           { d.session.Stop() }
func (d *singleDevice) Done() <-chan struct{}           { return d.session.Done() }
func (d *singleDevice) CloseInput()                     { d.session.CloseInput() }

func (d *singleDevice) Submit(ctx context.Context, device model.DeviceID, text string) error {
	return monitor.Sessions{d.session}.Submit(ctx, device, text)
}

func (d *singleDevice) Devices() []monitor.SessionStatus {
	return monitor.Sessions{d.session}.Devices()
}
