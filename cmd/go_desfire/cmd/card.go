package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_desfire/internal/config"
	"github.com/andrei-cloud/go_desfire/pkg/desfire"
	"github.com/andrei-cloud/go_desfire/pkg/pcsc"
	"github.com/andrei-cloud/go_desfire/pkg/sl032"
)

// cardCmd represents the card command.
var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Interrogate a card on a local reader",
	Long: `Interrogate a DESFire card through a serially attached SL032 reader or,
with --pcsc, through a PC/SC smart card reader.`,
}

// openTransport builds the card transport selected by the flags. The
// returned closer releases the underlying device.
func openTransport(cmd *cobra.Command) (desfire.Transceiver, func(), error) {
	cfg := config.Get()

	usePCSC, _ := cmd.Flags().GetBool("pcsc")
	if usePCSC {
		readerName, _ := cmd.Flags().GetString("reader")
		dev, err := pcsc.Open(readerName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open PC/SC reader: %w", err)
		}

		return dev, func() {
			if err := dev.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close PC/SC reader")
			}
		}, nil
	}

	device, _ := cmd.Flags().GetString("port")
	if device == "" {
		device = cfg.Serial.Port
	}
	baud, _ := cmd.Flags().GetInt("baud")
	if baud == 0 {
		baud = cfg.Serial.Baud
	}

	port, err := sl032.OpenPort(device, baud)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	reader := sl032.NewReader(port,
		sl032.WithTimeout(time.Duration(cfg.Reader.TimeoutMS)*time.Millisecond),
		sl032.WithLogger(log.Logger),
	)

	return reader, func() {
		if err := port.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close serial port")
		}
	}, nil
}

// withTag activates a card and runs fn against it.
func withTag(cmd *cobra.Command, fn func(*desfire.Tag) error) error {
	transport, closer, err := openTransport(cmd)
	if err != nil {
		return err
	}
	defer closer()

	tag := desfire.NewTag(transport)
	if err := tag.Connect(); err != nil {
		return fmt.Errorf("card activation failed: %w", err)
	}
	defer func() {
		if err := tag.Disconnect(); err != nil {
			log.Error().Err(err).Msg("failed to deactivate card")
		}
	}()

	return fn(tag)
}

// cardDetectCmd reports the UID of a card in the field.
var cardDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect a card and print its UID",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTag(cmd, func(tag *desfire.Tag) error {
			fmt.Fprintf(cmd.OutOrStdout(), "uid: %s\n",
				strings.ToUpper(hex.EncodeToString(tag.UID())))

			return nil
		})
	},
}

// cardUIDCmd reads the UID over the card interface rather than from the
// anticollision reply, which matters for cards in random UID mode.
var cardUIDCmd = &cobra.Command{
	Use:   "uid",
	Short: "Read the real UID from an authenticated card",
	Long: `Read the card UID with the GetCardUID command. The card only discloses it
inside an authenticated session, so the authentication key and number must
be supplied. Useful for cards configured with a random anticollision UID.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keyType, _ := cmd.Flags().GetString("type")
		keyNo, _ := cmd.Flags().GetUint8("keyno")
		value, err := readKeyHex(cmd)
		if err != nil {
			return err
		}
		key, err := buildKey(keyType, value, 0)
		if err != nil {
			return err
		}

		return withTag(cmd, func(tag *desfire.Tag) error {
			if err := tag.Authenticate(keyNo, key); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}

			uid, err := tag.CardUID()
			if err != nil {
				return fmt.Errorf("uid read failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uid: %s\n",
				strings.ToUpper(hex.EncodeToString(uid)))

			return nil
		})
	},
}

// cardInfoCmd prints the card's manufacturing data.
var cardInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print card version and manufacturing data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTag(cmd, func(tag *desfire.Tag) error {
			info, err := tag.Version()
			if err != nil {
				return fmt.Errorf("version read failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "uid:             %s\n",
				strings.ToUpper(hex.EncodeToString(info.UID[:])))
			fmt.Fprintf(out, "batch:           %s\n",
				strings.ToUpper(hex.EncodeToString(info.BatchNumber[:])))
			fmt.Fprintf(out, "produced:        week %02X of 20%02X\n",
				info.ProductionWeek, info.ProductionYear)
			fmt.Fprintf(out, "hardware:        vendor %02X type %02X.%02X version %d.%d\n",
				info.Hardware.VendorID, info.Hardware.Type, info.Hardware.Subtype,
				info.Hardware.VersionMajor, info.Hardware.VersionMinor)
			fmt.Fprintf(out, "software:        version %d.%d\n",
				info.Software.VersionMajor, info.Software.VersionMinor)
			fmt.Fprintf(out, "storage:         %d bytes\n",
				1<<(info.Hardware.StorageSize>>1))

			if free, err := tag.FreeMemory(); err == nil {
				fmt.Fprintf(out, "free memory:     %d bytes\n", free)
			}

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cardCmd)
	cardCmd.AddCommand(cardDetectCmd)
	cardCmd.AddCommand(cardUIDCmd)
	cardCmd.AddCommand(cardInfoCmd)

	for _, c := range []*cobra.Command{cardDetectCmd, cardUIDCmd, cardInfoCmd} {
		c.Flags().String("port", "", "Serial device of the SL032 reader")
		c.Flags().Int("baud", 0, "Serial baud rate")
		c.Flags().Bool("pcsc", false, "Use a PC/SC reader instead of the serial SL032")
		c.Flags().String("reader", "", "PC/SC reader name (first available if empty)")
	}
	cardUIDCmd.Flags().StringP("type", "t", "aes", "Authentication key type (des, 3des, 3k3des, aes)")
	cardUIDCmd.Flags().StringP("key", "k", "", "Authentication key in hex (prompted if omitted)")
	cardUIDCmd.Flags().Uint8("keyno", 0, "Key number to authenticate with")
}
