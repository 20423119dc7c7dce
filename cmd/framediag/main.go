// Command framediag inspects and exercises the antenna controller protocol.
//
//	framediag decode [-dir get|set] HEX...   decode frames
//	framediag encode NAME                    print the frame for a parameterless command
//	framediag send -remote ADDR NAME         send a command and print replies
//	framediag emulate [-listen ADDR]         run a simulated controller
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/star/trackgo/internal/link"
	"github.com/star/trackgo/internal/logging"
	"github.com/star/trackgo/internal/protocol"
)

var commands = map[string]protocol.Command{
	"status":  protocol.StatusRequest{},
	"version": protocol.VersionRequest{},
	"info":    protocol.DefaultInfoRequest{},
	"stop":    protocol.Stop{Axes: 0x07},
	"estop":   protocol.EmergencyStop{},
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "decode":
		err = decode(os.Args[2:])
	case "encode":
		err = encode(os.Args[2:])
	case "send":
		err = send(os.Args[2:])
	case "emulate":
		err = emulate(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: framediag decode|encode|send|emulate [flags] [args]")
	os.Exit(2)
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func lookupCommand(name string) (protocol.Command, error) {
	c, ok := commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q (known: %s)", name, commandNames())
	}
	return c, nil
}

// parseHex accepts "02 53 00 ..." as well as "025300...".
func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(s))
}

func printJSON(kind string, v any) error {
	out, err := json.MarshalIndent(map[string]any{"kind": kind, "message": v}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func decode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	dir := fs.String("dir", "get", "frame direction: get (controller to host) or set (host to controller)")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("no frames given")
	}

	for _, arg := range fs.Args() {
		buf, err := parseHex(arg)
		if err != nil {
			return fmt.Errorf("frame %q: %w", arg, err)
		}
		switch *dir {
		case "get":
			m, err := protocol.Inspect(buf)
			if err != nil {
				fmt.Printf("% X: %v\n", buf, err)
				continue
			}
			if err := printJSON(m.Kind().String(), m); err != nil {
				return err
			}
		case "set":
			c, err := protocol.InspectCommand(buf)
			if err != nil {
				fmt.Printf("% X: %v\n", buf, err)
				continue
			}
			if err := printJSON(c.Kind().String(), c); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid -dir %q", *dir)
		}
	}
	return nil
}

func encode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("encode takes one command name (%s)", commandNames())
	}
	c, err := lookupCommand(args[0])
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(c)
	if err != nil {
		return err
	}
	fmt.Printf("% X\n", frame)
	return nil
}

func send(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	remote := fs.String("remote", "127.0.0.1:4002", "controller address")
	wait := fs.Duration("wait", 2*time.Second, "how long to collect replies")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("send takes one command name (%s)", commandNames())
	}
	c, err := lookupCommand(fs.Arg(0))
	if err != nil {
		return err
	}

	logger, closer := logging.New(logging.Config{Level: "warn", Format: "text"})
	defer closer.Close()
	conn, err := link.Dial("", *remote, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	frame, err := protocol.Encode(c)
	if err != nil {
		return err
	}
	if err := conn.Send(frame); err != nil {
		return err
	}
	fmt.Printf("sent % X\n", frame)

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()
	err = conn.Run(ctx, func(buf []byte) {
		m, err := protocol.Inspect(buf)
		if err != nil {
			fmt.Printf("% X: %v\n", buf, err)
			return
		}
		printJSON(m.Kind().String(), m)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func emulate(args []string) error {
	fs := flag.NewFlagSet("emulate", flag.ExitOnError)
	listen := fs.String("listen", ":4002", "UDP listen address")
	interval := fs.Duration("status", time.Second, "status telemetry interval, 0 to disable")
	lat := fs.Float64("lat", 0, "station latitude")
	lon := fs.Float64("lon", 0, "station longitude")
	alt := fs.Float64("alt", 0, "station altitude in meters")
	level := fs.String("log-level", "info", "log level")
	fs.Parse(args)

	logger, closer := logging.New(logging.Config{Level: *level})
	defer closer.Close()
	conn, err := link.Listen(*listen, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	emu := link.NewEmulator(conn, link.EmulatorConfig{
		StatusInterval: *interval,
		Info: protocol.DefaultInfo{
			Tilt: 10, RefOffset: 7,
			AzCW: 270, AzCCW: -270,
			ElMin: 0, ElMax: 90,
			TrainMin: -180, TrainMax: 180,
		},
		Version:   protocol.VersionInfo{Major: 1, Serial: 1, Build: 1},
		Latitude:  *lat,
		Longitude: *lon,
		Altitude:  *alt,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info("emulator listening", "addr", conn.LocalAddr().String(), "status_interval", interval.String())
	if err := emu.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
