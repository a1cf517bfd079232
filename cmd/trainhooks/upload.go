package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trainhooks/internal/config"
	"trainhooks/internal/objectstore"
)

func newUploadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <src> <destination>",
		Short: "Copy a local file to a directory or object store URI",
		Long:  "Relocate a file the same way eval outputs are exported: s3://bucket/key uploads, anything else is a local copy.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.close(); err == nil {
					err = cerr
				}
			}()

			resolver, err := objectstore.NewResolver(s3Config(s.cfg.ObjectStore))
			if err != nil {
				return err
			}
			src, dest := args[0], args[1]
			if err := objectstore.Write(cmd.Context(), resolver, dest, src); err != nil {
				return fmt.Errorf("upload %s: %w", src, err)
			}
			s.log.Info("uploaded file", "src", src, "destination", dest)
			return nil
		},
	}
}

func s3Config(c config.ObjectStoreConfig) objectstore.S3Config {
	return objectstore.S3Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL,
	}
}
