// cmd/sercom/flags.go
package main

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sercom/internal/model"
	"sercom/internal/protocol"
)

// options holds the flags that are not plain configuration keys
type options struct {
	configFile string
	devices    []string
	listen     string
	list       bool
	save       bool
}

// flagKeys maps flags onto configuration keys. A flag only overrides the
// file and environment when it is given.
var flagKeys = map[string]string{
	"baudrate":     "serial.baud_rate",
	"timestamp":    "terminal.timestamp",
	"hex":          "terminal.hex",
	"max-attempts": "reconnect.max_attempts",
	"backoff":      "reconnect.backoff",
	"log-level":    "logging.level",
	"log-output":   "logging.output",
}

func newFlagSet(stderr io.Writer) (*pflag.FlagSet, *options) {
	opts := &options{}
	fs := pflag.NewFlagSet("sercom", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: sercom [flags] [port]\n\nFlags:\n%s", fs.FlagUsages())
	}

	fs.IntP("baudrate", "b", 115200, "baud rate")
	fs.Bool("timestamp", true, "prefix received lines with the capture time")
	fs.Bool("hex", false, "print a hex dump under every received line")
	fs.Int("max-attempts", 0, "reconnect attempts before giving up (0 retries forever)")
	fs.Duration("backoff", 3*time.Second, "wait between reconnect attempts")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-output", "./logs/sercom.log", "log destination: file path, stdout, stderr or none")

	fs.StringVar(&opts.configFile, "config", "", "config file (default ./sercom.yaml or ~/.config/sercom/sercom.yaml)")
	fs.StringArrayVar(&opts.devices, "device", nil, "monitor a device as id=port[@baud]; repeat for several devices")
	fs.StringVar(&opts.listen, "listen", "", "serve the observer API on host:port")
	fs.BoolVar(&opts.list, "list", false, "list available serial ports and exit")
	fs.BoolVar(&opts.save, "save", false, "save port, baud rate and timestamp preference to the config file")

	return fs, opts
}

// bindFlags wires parsed flags into v. The optional positional argument is
// the serial port.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, opts *options) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	switch fs.NArg() {
	case 0:
	case 1:
		v.Set("serial.port", fs.Arg(0))
	default:
		return protocol.InvalidParameterf("expected at most one port, got %d", fs.NArg())
	}

	if opts.configFile != "" {
		v.SetConfigFile(opts.configFile)
	}

	if len(opts.devices) > 0 {
		devices, err := deviceOverrides(opts.devices)
		if err != nil {
			return err
		}
		v.Set("devices", devices)
	}

	if opts.listen != "" {
		host, port, err := net.SplitHostPort(opts.listen)
		if err != nil {
			return protocol.InvalidParameterf("invalid listen address %q: %v", opts.listen, err)
		}
		v.Set("server.enabled", true)
		v.Set("server.host", host)
		v.Set("server.port", port)
	}

	return nil
}

// deviceOverrides parses the --device flags into configuration entries. A
// device without a baud rate inherits serial.baud_rate during validation.
func deviceOverrides(values []string) ([]map[string]interface{}, error) {
	devices := make([]map[string]interface{}, 0, len(values))
	for _, value := range values {
		spec, err := model.ParseDeviceSpec(value, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidParameter, err)
		}
		devices = append(devices, map[string]interface{}{
			"id":        string(spec.ID),
			"port":      spec.Address,
			"baud_rate": spec.BaudRate,
		})
	}
	return devices, nil
}
