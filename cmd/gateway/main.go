package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/victronbms/gateway/pkg/can/socketcan"
	"github.com/victronbms/gateway/pkg/config"
	"github.com/victronbms/gateway/pkg/gateway"
	"github.com/victronbms/gateway/pkg/tinybms"
)

func main() {
	log.SetLevel(log.InfoLevel)

	configPath := flag.String("c", "/etc/victron-gateway.ini", "ini config file path")
	device := flag.String("d", "", "override serial device path")
	canIface := flag.String("i", "", "override CAN interface name")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("could not load config %v: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *canIface != "" {
		cfg.CANIface = *canIface
	}

	entry := log.WithField("service", "victron-gateway")

	port, err := tinybms.OpenPort(cfg.Device)
	if err != nil {
		fmt.Printf("could not open serial device %v: %v\n", cfg.Device, err)
		os.Exit(1)
	}

	canBus, err := socketcan.New(cfg.CANIface)
	if err != nil {
		fmt.Printf("could not open CAN interface %v: %v\n", cfg.CANIface, err)
		os.Exit(1)
	}

	cvlStore := &config.CVLStore{Path: "/var/lib/victron-gateway/cvl.ini"}
	energyStore := config.EnergyStore{Path: "/var/lib/victron-gateway/energy.ini"}

	gw := gateway.New(cfg, port, canBus, cvlStore, energyStore, entry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		entry.Info("shutting down")
		cancel()
		close(stop)
	}()

	if err := gw.Run(ctx, stop); err != nil {
		entry.WithError(err).Error("gateway exited with error")
		os.Exit(1)
	}
}
