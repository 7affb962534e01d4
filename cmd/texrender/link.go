package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/texrender/pkg/domain"
	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link [source]",
	Short: "Print the signed render URL of a snippet",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Signed.Key == "" || cfg.Signed.PublicOrigin == "" {
			return errors.New("signed.key and signed.public_origin are required")
		}
		mathMode, _ := cmd.Flags().GetBool("math")
		source, err := readSource(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		link := svc.Signed().Link(svc.Builder.Build(source, mathMode, domain.LightScheme))
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nmode: %s\n", link.PublicURL, link.Mode)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().BoolP("math", "m", false, "Treat the source as a full math-mode body")
}
