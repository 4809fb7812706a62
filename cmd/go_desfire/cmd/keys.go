package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/andrei-cloud/go_desfire/pkg/desfire"
)

// keysCmd represents the main keys command.
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Card key inspection and derivation",
	Long: `Card key operations performed locally, without a reader.
Subcommands read and set the key version travelling in the parity bits of
DES family keys, and derive session keys from authentication nonces.`,
}

// readKeyHex returns the key material, prompting on the terminal when the
// flag was not given so the key never lands in shell history.
func readKeyHex(cmd *cobra.Command) ([]byte, error) {
	keyHex, _ := cmd.Flags().GetString("key")
	if keyHex == "" {
		fmt.Fprint(os.Stderr, "key (hex): ")
		line, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
		keyHex = string(line)
	}

	value, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid key hex: %w", err)
	}

	return value, nil
}

// buildKey constructs a key of the named cipher type, preserving any
// version bits present in the material.
func buildKey(keyType string, value []byte, aesVersion byte) (*desfire.Key, error) {
	switch strings.ToLower(keyType) {
	case "des":
		return desfire.NewDESKeyWithVersion(value)
	case "3des":
		return desfire.New3DESKeyWithVersion(value)
	case "3k3des":
		return desfire.New3K3DESKeyWithVersion(value)
	case "aes":
		return desfire.NewAESKey(value, aesVersion)
	default:
		return nil, fmt.Errorf("unknown key type %q (valid: des, 3des, 3k3des, aes)", keyType)
	}
}

// keyVersionCmd reads the version embedded in a key.
var keyVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Read the version embedded in a key",
	Long: `Read the key version. DES family keys carry it scattered over the parity
bits of the first 8 key bytes; for AES it is a separate value supplied to
the card alongside the key.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keyType, _ := cmd.Flags().GetString("type")
		value, err := readKeyHex(cmd)
		if err != nil {
			return err
		}

		key, err := buildKey(keyType, value, 0)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "version: 0x%02X\n", key.Version())

		return nil
	},
}

// keySetVersionCmd stamps a version into a key and prints the result.
var keySetVersionCmd = &cobra.Command{
	Use:   "setversion",
	Short: "Stamp a version into a key",
	Long: `Set the key version and print the resulting key material. For DES the
first half is mirrored into the second; for 3DES the second half receives
the complemented version bits so the halves stay distinct.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keyType, _ := cmd.Flags().GetString("type")
		version, _ := cmd.Flags().GetUint8("version")
		value, err := readKeyHex(cmd)
		if err != nil {
			return err
		}

		key, err := buildKey(keyType, value, 0)
		if err != nil {
			return err
		}
		key.SetVersion(version)

		fmt.Fprintf(cmd.OutOrStdout(), "key:     %s\n",
			strings.ToUpper(hex.EncodeToString(key.Bytes())))
		fmt.Fprintf(cmd.OutOrStdout(), "version: 0x%02X\n", key.Version())

		return nil
	},
}

// keySessionCmd derives a session key from authentication nonces.
var keySessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Derive a session key from authentication nonces",
	Long: `Derive the session key produced by a successful mutual authentication,
given the two random nonces and the authentication key. Nonces are 8 bytes
for DES and 3DES, 16 bytes for 3K3DES and AES.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keyType, _ := cmd.Flags().GetString("type")
		rndAHex, _ := cmd.Flags().GetString("rnda")
		rndBHex, _ := cmd.Flags().GetString("rndb")
		if rndAHex == "" || rndBHex == "" {
			return errors.New("both --rnda and --rndb are required")
		}

		rndA, err := hex.DecodeString(rndAHex)
		if err != nil {
			return fmt.Errorf("invalid rnda hex: %w", err)
		}
		rndB, err := hex.DecodeString(rndBHex)
		if err != nil {
			return fmt.Errorf("invalid rndb hex: %w", err)
		}

		value, err := readKeyHex(cmd)
		if err != nil {
			return err
		}
		authKey, err := buildKey(keyType, value, 0)
		if err != nil {
			return err
		}

		session, err := desfire.NewSessionKey(rndA, rndB, authKey)
		if err != nil {
			return fmt.Errorf("session key derivation failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "session key: %s\n",
			strings.ToUpper(hex.EncodeToString(session.Bytes())))
		fmt.Fprintf(cmd.OutOrStdout(), "type:        %s\n", session.Type())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keyVersionCmd)
	keysCmd.AddCommand(keySetVersionCmd)
	keysCmd.AddCommand(keySessionCmd)

	for _, c := range []*cobra.Command{keyVersionCmd, keySetVersionCmd, keySessionCmd} {
		c.Flags().StringP("type", "t", "aes", "Key type (des, 3des, 3k3des, aes)")
		c.Flags().StringP("key", "k", "", "Key material in hex (prompted if omitted)")
	}
	keySetVersionCmd.Flags().Uint8P("version", "v", 0, "Version to stamp into the key")
	keySessionCmd.Flags().String("rnda", "", "Reader nonce in hex")
	keySessionCmd.Flags().String("rndb", "", "Card nonce in hex")
}
