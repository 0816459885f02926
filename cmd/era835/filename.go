package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFilenameCmd() *cobra.Command {
	var input, ext string

	cmd := &cobra.Command{
		Use:   "filename",
		Short: "Print the file name a document would be written under",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(input, cmd.InOrStdin())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.Filename(ext))
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", stdinSource, `input JSON file, "-" for stdin`)
	cmd.Flags().StringVar(&ext, "ext", "", "file extension (default txt)")
	return cmd
}
