package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var contractOut string

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Print the field contract as a Markdown document",
	Long:  "Renders the active field contract (pipeline.contract_path, or the built-in one) as the published data-contract document.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadContract()
		if err != nil {
			return err
		}

		doc := c.Markdown()
		if contractOut == "" {
			fmt.Fprint(os.Stdout, doc)
			return nil
		}
		if err := os.WriteFile(contractOut, []byte(doc), 0o644); err != nil {
			return eris.Wrapf(err, "write %s", contractOut)
		}
		return nil
	},
}

func init() {
	contractCmd.Flags().StringVarP(&contractOut, "output", "o", "", "write the document to this file instead of stdout")
	rootCmd.AddCommand(contractCmd)
}
