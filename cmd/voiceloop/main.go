// Command voiceloop listens on the microphone, answers each utterance with a
// chat model and speaks the reply.
//
// Usage:
//
//	voiceloop run [--config voiceloop.yaml]
//	voiceloop config
//	voiceloop devices
//
// Keys while running: space toggles recording, esc stops playback, ctrl-c quits.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "voiceloop",
		Short:         "Real-time voice loop: capture, segment, transcribe, reply, speak",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default $VOICELOOP_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newRunCmd(opts),
		newConfigCmd(opts),
		newDevicesCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
