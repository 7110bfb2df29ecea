package main

import (
	"confusage/internal/server"
	"confusage/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve <procDirListPath> <classPathPath>",
		Short: "Serve the call-graph index and traces over MCP on stdio",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errWrongArguments
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := f.setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			dbPath := f.db
			if dbPath == "" {
				dbPath = ":memory:"
			}
			st, err := store.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			s := server.New(st, server.Options{
				Version:       version,
				ProcDirList:   args[0],
				ClassPathList: args[1],
				Load:          loadOptions(cfg, logger.Named("analysis")),
				Trace:         traceOptions(cfg),
				Component:     cfg.Component.Class,
				Constructor:   cfg.Component.Constructor,
				Logger:        logger.Named("server"),
			})
			logger.Info("serving on stdio", zap.String("db", dbPath))
			return s.Run(cmd.Context())
		},
	}
}
