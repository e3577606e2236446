package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "magnetsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Defaults(), "yaml"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconf() Config {
	c := Config{}
	err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "yaml"})
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `magnetsrv drives a three coil vector magnet and sweeps it to align an
instrument, exposing both over HTTP.

Usage:
	magnetsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `magnetsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration file the server runs with mock supplies, which is
useful for trying clients.  Set Mock: false and the X, Y, Z supply addresses
to drive hardware.  Cryomagnetics APS100 supplies are supported, over TCP or
RS-232.  The two channels of a dual channel unit are given the same Addr and
different Channel numbers.

The Endpoint may look like any variation between "lab/magnet" or "/lab/magnet/*",
the leading and trailing slashes, as well as the *, are added by the server if missing.

Limits are in tesla.  ConeHalfAngle is in degrees.  Times in the Align
section are in seconds.

GET /endpoints lists every route the server has.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("magnetsrv version %v\n", Version)
}

func run() {
	c := loadconf()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	mux, closer, err := BuildMux(ctx, c)
	if err != nil {
		log.Fatal(err)
	}
	srv := &http.Server{Addr: c.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Println("now listening for requests at ", c.Addr)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Println(err)
	}
	if err := closer(); err != nil {
		log.Println("releasing hardware:", err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
