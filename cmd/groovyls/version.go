package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"groovyls/internal/version"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(versionFormat)
		if err != nil {
			return err
		}
		return render(os.Stdout, format, version.Get(), func(w io.Writer) error {
			_, err := fmt.Fprintln(w, version.Full())
			return err
		})
	},
}

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "human", "Output format (human, json, yaml)")
	rootCmd.AddCommand(versionCmd)
}
