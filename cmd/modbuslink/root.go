package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/edgeo-scada/modbus-link"
)

var (
	cfgFile string

	// Global flags
	mode    string
	host    string
	port    int
	device  string
	baud    int
	parity  string
	unitID  uint8
	timeout time.Duration
	settle  time.Duration
	verbose bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbuslink",
	Short: "Modbus master and slave over TCP, RTU and RTU-over-TCP",
	Long: `modbuslink talks to Modbus devices as a master and simulates them as a slave.

The --mode flag selects the encapsulation:
  tcp          Modbus TCP with MBAP framing (default)
  rtu          Modbus RTU on a serial line (--device required)
  rtu-over-tcp RTU framing without CRC carried over TCP

Examples:
  # Read 10 holding registers from address 0
  modbuslink read holding -a 0 -c 10 -H 192.168.1.100

  # Write value 1234 to register 100 over a serial line
  modbuslink write register -a 100 -V 1234 --mode rtu --device /dev/ttyUSB0

  # Simulate units 1-3 seeded from a CSV register map
  modbuslink serve -l :1502 --units 1,2,3 --regmap plant.csv`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbuslink.yaml)")

	// Connection flags
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "tcp", "Encapsulation: tcp, rtu, rtu-over-tcp")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "Modbus server host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", modbus.DefaultPort, "Modbus server port")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "Serial device for RTU mode")
	rootCmd.PersistentFlags().IntVarP(&baud, "baud", "b", 19200, "Serial baud rate")
	rootCmd.PersistentFlags().StringVar(&parity, "parity", "N", "Serial parity: N, E, O")
	rootCmd.PersistentFlags().Uint8VarP(&unitID, "unit", "u", 1, "Modbus unit ID (1-247)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", modbus.DefaultTimeout, "Operation timeout")
	rootCmd.PersistentFlags().DurationVar(&settle, "settle", modbus.DefaultSettleDelay, "Half-duplex settle delay before reading the reply")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Bind to viper
	viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("baud", rootCmd.PersistentFlags().Lookup("baud"))
	viper.BindPFlag("unit", rootCmd.PersistentFlags().Lookup("unit"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".modbuslink")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func getAddress() string {
	return fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port"))
}

// createClient builds a client for the selected encapsulation.
func createClient() (*modbus.Client, error) {
	opts := []modbus.Option{
		modbus.WithUnitID(modbus.UnitID(unitID)),
		modbus.WithTimeout(timeout),
		modbus.WithSettleDelay(settle),
		modbus.WithLogger(logger),
	}

	switch viper.GetString("mode") {
	case "tcp":
		return modbus.NewTCPClient(getAddress(), opts...)
	case "rtu-over-tcp":
		return modbus.NewRTUOverTCPClient(getAddress(), opts...)
	case "rtu":
		return modbus.NewRTUClient(modbus.SerialConfig{
			Device:   viper.GetString("device"),
			BaudRate: viper.GetInt("baud"),
			Parity:   parity,
		}, opts...)
	default:
		return nil, fmt.Errorf("unknown mode %q", viper.GetString("mode"))
	}
}
