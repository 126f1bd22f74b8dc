package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/user/roshambo/internal/memory"
)

// memoryCmd represents the memory command
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage remembered players",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored player slot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return listSlots(cmd, backend)
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <player-id>",
	Short: "Print what the opponent remembers about a player",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return showSlot(cmd.OutOrStdout(), backend, args[0])
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear <player-id>",
	Short: "Forget a player",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return clearSlot(cmd, backend, args[0])
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryListCmd, memoryShowCmd, memoryClearCmd)
}

func listSlots(cmd *cobra.Command, backend memory.Backend) error {
	slots, err := backend.Keys(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list players: %w", err)
	}
	for _, slot := range slots {
		fmt.Fprintln(cmd.OutOrStdout(), slot)
	}
	return nil
}

func showSlot(out io.Writer, backend memory.Backend, slot string) error {
	record := memory.NewStore(backend, slot, nil).Load()
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(record)
}

func clearSlot(cmd *cobra.Command, backend memory.Backend, slot string) error {
	if err := backend.Delete(cmd.Context(), slot); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "Nothing stored for %s\n", slot)
			return nil
		}
		return fmt.Errorf("failed to clear %s: %w", slot, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", slot)
	return nil
}
