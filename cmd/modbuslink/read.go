package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	readAddr  uint16
	readCount uint16
)

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read data from a Modbus device",
	Long:    `Read coils, discrete inputs, holding registers, or input registers from a Modbus device.`,
}

// Read coils (FC01)
var readCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Read coils (FC01)",
	Example: `  modbuslink read coils -a 0 -c 10 -H 192.168.1.100
  modbuslink r c -a 100 -c 8 --mode rtu --device /dev/ttyUSB0`,
	RunE: runReadCoils,
}

// Read discrete inputs (FC02)
var readDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Read discrete inputs (FC02)",
	Example: `  modbuslink read discrete-inputs -a 0 -c 10 -H 192.168.1.100`,
	RunE:    runReadDiscreteInputs,
}

// Read holding registers (FC03)
var readHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Read holding registers (FC03)",
	Example: `  modbuslink read holding-registers -a 0 -c 10 -H 192.168.1.100
  modbuslink r hr -a 100 -c 4`,
	RunE: runReadHoldingRegisters,
}

// Read input registers (FC04)
var readInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Read input registers (FC04)",
	Example: `  modbuslink read input-registers -a 0 -c 10 -H 192.168.1.100`,
	RunE:    runReadInputRegisters,
}

func init() {
	readCmd.AddCommand(readCoilsCmd)
	readCmd.AddCommand(readDiscreteInputsCmd)
	readCmd.AddCommand(readHoldingRegistersCmd)
	readCmd.AddCommand(readInputRegistersCmd)

	for _, cmd := range []*cobra.Command{readCoilsCmd, readDiscreteInputsCmd, readHoldingRegistersCmd, readInputRegistersCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
	}
}

func runReadCoils(cmd *cobra.Command, args []string) error {
	client, err := createClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	values, err := client.ReadCoils(ctx, readAddr, readCount)
	if err != nil {
		return fmt.Errorf("read coils failed: %w", err)
	}

	printBoolValues("coil", readAddr, values)
	return nil
}

func runReadDiscreteInputs(cmd *cobra.Command, args []string) error {
	client, err := createClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	values, err := client.ReadDiscreteInputs(ctx, readAddr, readCount)
	if err != nil {
		return fmt.Errorf("read discrete inputs failed: %w", err)
	}

	printBoolValues("discrete input", readAddr, values)
	return nil
}

func runReadHoldingRegisters(cmd *cobra.Command, args []string) error {
	client, err := createClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	values, err := client.ReadHoldingRegisters(ctx, readAddr, readCount)
	if err != nil {
		return fmt.Errorf("read holding registers failed: %w", err)
	}

	printRegisterValues("holding register", readAddr, values)
	return nil
}

func runReadInputRegisters(cmd *cobra.Command, args []string) error {
	client, err := createClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	values, err := client.ReadInputRegisters(ctx, readAddr, readCount)
	if err != nil {
		return fmt.Errorf("read input registers failed: %w", err)
	}

	printRegisterValues("input register", readAddr, values)
	return nil
}

func printBoolValues(kind string, addr uint16, values []bool) {
	for i, v := range values {
		state := 0
		if v {
			state = 1
		}
		fmt.Printf("%s %d: %d\n", kind, addr+uint16(i), state)
	}
}

func printRegisterValues(kind string, addr uint16, values []uint16) {
	for i, v := range values {
		fmt.Printf("%s %d: %d (0x%04X)\n", kind, addr+uint16(i), v, v)
	}
}
