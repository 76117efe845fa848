package cli

import (
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	pgloader "live-quiz-service/internal/infra/postgres"
)

// NewSeedCmd loads quizzes from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert quizzes from a YAML seed file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Quiz.SeedFile
			}
			if file == "" {
				return fmt.Errorf("no seed file: pass --file or set quiz.seed_file")
			}
			if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
				return err
			}

			seed, err := memory.LoadSeedFile(file)
			if err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			loader := pgloader.NewQuizLoader(pool)
			for _, quiz := range seed.Quizzes() {
				if err := loader.SaveQuiz(ctx, quiz); err != nil {
					return err
				}
				logger.Info("quiz seeded", "quiz", quiz.ID, "questions", len(quiz.Questions))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file with a top-level quizzes list (defaults to quiz.seed_file)")
	return cmd
}
