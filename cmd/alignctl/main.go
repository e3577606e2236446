package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/theckman/yacspin"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

func usage() {
	str := `alignctl starts and watches alignment sweeps on a magnetsrv.

Usage:
	alignctl [flags] <command>

Commands:
	start      begin a new sweep and watch it
	continue   resume a stopped sweep and watch it
	stop       stop the sweep, -abort also halts the magnet
	progress   print the progress of the sweep
	save TAG   save the last sweep with a tag
	version

Flags:`
	fmt.Fprintln(flag.CommandLine.Output(), str)
	flag.PrintDefaults()
}

func watch(ctx context.Context, c Client, interval time.Duration) error {
	spin, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " sweeping",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	if err := spin.Start(); err != nil {
		return err
	}
	var last Progress
	err = c.Poll(ctx, interval, func(p Progress) {
		last = p
		spin.Message(p.String())
	})
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		return err
	}
	if last.Index < last.Total {
		spin.StopFailMessage(fmt.Sprintf("stopped after %d of %d steps", last.Index, last.Total))
		return spin.StopFail()
	}
	spin.StopMessage(fmt.Sprintf("%d steps in %s", last.Total, last.Elapsed.Round(time.Second)))
	return spin.Stop()
}

func main() {
	addr := flag.String("addr", "http://localhost:8000/magnet", "URL of the magnet endpoint")
	abort := flag.Bool("abort", false, "with stop, also halt the magnet")
	interval := flag.Duration("interval", 500*time.Millisecond, "progress poll period")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	c := Client{URL: strings.TrimSuffix(*addr, "/")}

	var err error
	switch strings.ToLower(flag.Arg(0)) {
	case "start", "continue":
		cont := strings.ToLower(flag.Arg(0)) == "continue"
		if err = c.Start(ctx, cont); err == nil {
			err = watch(ctx, c, *interval)
		}
	case "stop":
		err = c.Stop(ctx, *abort)
	case "progress":
		var p Progress
		p, err = c.Progress(ctx)
		if err == nil {
			fmt.Println(p)
		}
	case "save":
		var name string
		name, err = c.Save(ctx, flag.Arg(1))
		if err == nil {
			fmt.Println("saved", name)
		}
	case "version":
		fmt.Printf("alignctl version %v\n", Version)
	default:
		log.Fatal("unknown command")
	}
	if err != nil {
		log.Fatal(err)
	}
}
