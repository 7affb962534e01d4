package main

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/aretw0/texrender/pkg/adapters/console"
	"github.com/aretw0/texrender/pkg/delivery"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render [source]",
	Short: "Render a snippet and save the image",
	Long: `Renders a LaTeX snippet through the configured backend and saves the image.
Without an argument the source is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mathMode, _ := cmd.Flags().GetBool("math")
		outDir, _ := cmd.Flags().GetString("out")

		source, err := readSource(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		term := console.New(cmd.OutOrStdout(), console.WithOutputDir(outDir))
		receipt, err := svc.Controller(term).HandleCommand(cmd.Context(), term, source, mathMode)
		if err != nil {
			return err
		}
		logger.Debug("Render finished", "request_id", receipt.RequestID, "state", receipt.State.String())
		if receipt.State != delivery.StateDelivered {
			return errors.New("render did not produce an image")
		}
		return nil
	},
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().BoolP("math", "m", false, "Treat the source as a full math-mode body")
	cwd, _ := os.Getwd()
	renderCmd.Flags().StringP("out", "o", cwd, "Directory for rendered images")
}
