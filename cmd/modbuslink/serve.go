package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/edgeo-scada/modbus-link"
)

var (
	serveListen  string
	serveUnits   []uint
	serveSingle  bool
	serveRegmap  string
	serveMaxConn int
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"slave", "simulate"},
	Short:   "Run a Modbus slave simulator",
	Long: `Simulate one or more Modbus slave devices.

The encapsulation follows --mode: tcp serves MBAP framing, rtu-over-tcp
serves CRC-less RTU frames on a TCP listener, and rtu answers on a serial
line. Device memory starts zeroed unless seeded with --regmap.

With --single the simulator impersonates exactly the --unit id and silently
ignores requests addressed to other units, like a real serial slave. Without
it, every id in --units is served and unknown ids get an exception reply.`,
	Example: `  modbuslink serve -l :1502 --units 1,2,3
  modbuslink serve -l :1502 --regmap plant.csv
  modbuslink serve --mode rtu --device /dev/ttyUSB0 --single -u 5`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", fmt.Sprintf(":%d", modbus.DefaultPort), "Listen address for TCP modes")
	serveCmd.Flags().UintSliceVar(&serveUnits, "units", []uint{1}, "Unit IDs to simulate")
	serveCmd.Flags().BoolVar(&serveSingle, "single", false, "Serve only the --unit id, dropping all other traffic")
	serveCmd.Flags().StringVar(&serveRegmap, "regmap", "", "CSV register map to seed device memory")
	serveCmd.Flags().IntVar(&serveMaxConn, "max-conns", 100, "Maximum concurrent TCP connections")
}

func runServe(cmd *cobra.Command, args []string) error {
	registry := modbus.NewDeviceRegistry()
	for _, u := range serveUnits {
		registry.Add(modbus.UnitID(u))
	}
	if serveRegmap != "" {
		if err := modbus.LoadRegisterMapFile(serveRegmap, registry); err != nil {
			return err
		}
		logger.Info("register map loaded", "path", serveRegmap, "devices", registry.Len())
	}

	opts := []modbus.ServerOption{
		modbus.WithServerLogger(logger),
		modbus.WithMaxConnections(serveMaxConn),
	}
	if serveSingle {
		opts = append(opts, modbus.WithSingleUnit(modbus.UnitID(unitID)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch viper.GetString("mode") {
	case "tcp":
		server := modbus.NewServer(modbus.TCPCodec{}, registry, opts...)
		return server.ListenAndServeContext(ctx, serveListen)

	case "rtu-over-tcp":
		server := modbus.NewServer(modbus.RTUOverTCPCodec{}, registry, opts...)
		return server.ListenAndServeContext(ctx, serveListen)

	case "rtu":
		server := modbus.NewSerialServer(modbus.SerialConfig{
			Device:   viper.GetString("device"),
			BaudRate: viper.GetInt("baud"),
			Parity:   parity,
		}, registry, opts...)
		go func() {
			<-ctx.Done()
			server.Close()
		}()
		return server.Serve()

	default:
		return fmt.Errorf("unknown mode %q", viper.GetString("mode"))
	}
}
