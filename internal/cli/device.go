package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AIDilloBot/trustgate/internal/device"
)

var (
	deviceName     string
	deviceIdentity string
)

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.PersistentFlags().StringVar(&deviceName, "name", "default", "Identity name within the vault")

	deviceCmd.AddCommand(deviceIDCmd)
	deviceCmd.AddCommand(deviceChallengeCmd)
	deviceChallengeCmd.Flags().StringVar(&deviceIdentity, "server-identity", "trustgate", "Identity string bound into the challenge")
	deviceCmd.AddCommand(deviceRespondCmd)
	deviceCmd.AddCommand(deviceVerifyCmd)
	deviceVerifyCmd.Flags().StringVar(&deviceIdentity, "server-identity", "trustgate", "Expected server identity")
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Ed25519 device identity and challenge-response auth",
}

var deviceIDCmd = &cobra.Command{
	Use:   "id",
	Short: "Print this machine's device id, creating the identity if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		id, err := device.LoadOrCreateIdentity(v, deviceName)
		if err != nil {
			return err
		}
		fmt.Println(id.ID)
		return nil
	},
}

var deviceChallengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Issue a fresh challenge as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := device.NewChallenge(deviceIdentity)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(c)
	},
}

var deviceRespondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Sign a challenge read from stdin with this machine's identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		var c device.Challenge
		if err := json.NewDecoder(os.Stdin).Decode(&c); err != nil {
			return fmt.Errorf("failed to parse challenge: %w", err)
		}
		v, err := openVault()
		if err != nil {
			return err
		}
		id, err := device.LoadOrCreateIdentity(v, deviceName)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(device.Sign(id, c))
	},
}

var deviceVerifyCmd = &cobra.Command{
	Use:   "verify <challenge.json>",
	Short: "Verify a signed response read from stdin against an issued challenge",
	Long: "Checks a challenge response: nonce match, freshness window,\n" +
		"server identity, and Ed25519 signature. Prints the device id\n" +
		"derived from the response's public key on success.\n\n" +
		"Exit code 0 on success, 1 on rejection.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read challenge: %w", err)
		}
		var issued device.Challenge
		if err := json.Unmarshal(raw, &issued); err != nil {
			return fmt.Errorf("failed to parse challenge: %w", err)
		}
		var resp device.Response
		if err := json.NewDecoder(os.Stdin).Decode(&resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		deviceID, err := device.NewVerifier(deviceIdentity).Verify(issued, resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rejected: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(deviceID)
		return nil
	},
}
