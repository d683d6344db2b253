package admintools

import (
	"io/fs"
	"net/http"
	"os"

	"git.handmade.network/hmn/forumdb/src/fakes3"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	"git.handmade.network/hmn/forumdb/src/logging"
	"github.com/spf13/cobra"
)

func init() {
	var addr string

	s3Command := &cobra.Command{
		Use:   "fakes3 [storage folder]",
		Short: "Run a local S3 server for the s3 file backend, stored in a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetFolder := "./tmp"
			if len(args) > 0 {
				targetFolder = args[0]
			}
			if err := os.MkdirAll(targetFolder, fs.ModePerm); err != nil {
				return err
			}

			logging.Info().Str("addr", addr).Str("folder", targetFolder).Msg("Serving fake S3")
			return http.ListenAndServe(addr, fakes3.Handler(targetFolder))
		},
	}
	s3Command.Flags().StringVar(&addr, "addr", ":9000", "Address to listen on")

	forumctl.Command.AddCommand(s3Command)
}
