package cmd

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_desfire/internal/bridge"
	"github.com/andrei-cloud/go_desfire/internal/config"
	"github.com/andrei-cloud/go_desfire/pkg/sl032"
)

var (
	listenAddr string
	serialPort string
	serialBaud int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose a local SL032 reader over TCP",
	Long: `Start a TCP bridge that forwards card commands from network clients to a
serially attached SL032 contactless reader.`,
	Run: func(_ *cobra.Command, _ []string) {
		cfg := config.Get()
		if serialPort == "" {
			serialPort = cfg.Serial.Port
		}
		if serialBaud == 0 {
			serialBaud = cfg.Serial.Baud
		}
		if listenAddr == "" {
			listenAddr = cfg.Bridge.Listen
		}

		port, err := sl032.OpenPort(serialPort, serialBaud)
		if err != nil {
			log.Fatal().Err(err).Str("port", serialPort).Msg("failed to open serial port")
		}
		defer port.Close()

		reader := sl032.NewReader(port,
			sl032.WithTimeout(time.Duration(cfg.Reader.TimeoutMS)*time.Millisecond),
			sl032.WithLogger(log.Logger),
		)

		srv, err := bridge.New(listenAddr, reader)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize bridge")
		}

		// Ensure the stop channel is closed only once.
		var stopOnce sync.Once
		stopChan := make(chan os.Signal, 1)
		signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-stopChan
			log.Info().Msgf("signal %v received, shutting down bridge", sig)

			stopOnce.Do(func() {
				if err := srv.Stop(); err != nil {
					log.Error().Err(err).Msg("failed to stop bridge")
				}
				close(stopChan)
			})
		}()

		// Start the bridge.
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start bridge")
		}

		// Block the main goroutine until a termination signal is received.
		<-stopChan

		log.Info().Msg("bridge stopped gracefully")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Bridge listen address")
	serveCmd.Flags().StringVar(&serialPort, "port", "", "Serial device of the SL032 reader")
	serveCmd.Flags().IntVar(&serialBaud, "baud", 0, "Serial baud rate")
}
