package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"dreamGarden/internal/auth"
	"dreamGarden/internal/catalog"
	"dreamGarden/internal/config"
	"dreamGarden/internal/database"
	"dreamGarden/internal/portfolio"
	"dreamGarden/internal/student"
)

// dbFlags 覆盖环境变量中的数据库配置。
type dbFlags struct {
	host     string
	port     int
	name     string
	user     string
	password string
	sslMode  string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags dbFlags

	cmd := &cobra.Command{
		Use:           "dreamgarden-admin",
		Short:         "运维工具：签发开发令牌、初始化能力标签、手动再生成作品集",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.host, "db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
	pf.IntVar(&flags.port, "db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
	pf.StringVar(&flags.name, "db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
	pf.StringVar(&flags.user, "db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
	pf.StringVar(&flags.password, "db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
	pf.StringVar(&flags.sslMode, "db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")

	cmd.AddCommand(
		issueTokenCmd(),
		migrateCmd(&flags),
		seedCompetenciesCmd(&flags),
		regeneratePortfolioCmd(&flags),
	)
	return cmd
}

func issueTokenCmd() *cobra.Command {
	var (
		subject        string
		email          string
		privateKeyPath string
		publicKeyPath  string
		issuer         string
		ttl            time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "签发本地开发用的访问令牌（生产环境由外部身份服务签发）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("missing required flag: --subject")
			}
			svc, err := auth.LoadAuthService(config.AuthConfig{
				PrivateKeyPath: envDefault(privateKeyPath, "AUTH_PRIVATE_KEY_PATH"),
				PublicKeyPath:  envDefault(publicKeyPath, "AUTH_PUBLIC_KEY_PATH"),
				Issuer:         envDefault(issuer, "AUTH_ISSUER"),
				AccessTokenTTL: ttl,
			})
			if err != nil {
				return fmt.Errorf("load auth keys: %w", err)
			}
			token, err := svc.IssueAccessToken(subject, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "主体 ID（必填）")
	cmd.Flags().StringVar(&email, "email", "", "主体邮箱")
	cmd.Flags().StringVar(&privateKeyPath, "private-key", "", "RS256 私钥 PEM 路径（默认读 AUTH_PRIVATE_KEY_PATH）")
	cmd.Flags().StringVar(&publicKeyPath, "public-key", "", "RS256 公钥 PEM 路径（默认读 AUTH_PUBLIC_KEY_PATH）")
	cmd.Flags().StringVar(&issuer, "issuer", "", "签发方（默认读 AUTH_ISSUER）")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "令牌有效期")
	return cmd
}

func migrateCmd(flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase(flags)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database migrated")
			return nil
		},
	}
}

func seedCompetenciesCmd(flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-competencies",
		Short: "写入默认能力树（按名称幂等）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase(flags)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			created, err := catalog.SeedCompetencies(cmd.Context(), db, catalog.DefaultCompetencies)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d competencies\n", created)
			return nil
		},
	}
}

func regeneratePortfolioCmd(flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate-portfolio <student-id>",
		Short: "同步再生成某个学生的作品集",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid student id %q", args[0])
			}
			db, err := openDatabase(flags)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			agg := portfolio.NewAggregator(db, student.NewRegistry(db, database.DefaultReadRetries), nil, logger, portfolio.DefaultTopCompetencies, database.DefaultReadRetries)
			p, err := agg.Regenerate(ctx, uint(id))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "student %d: %d records, completion %d%%\n", id, p.RecordCount, p.CompletionPct)
			return nil
		},
	}
}

func openDatabase(flags *dbFlags) (*gorm.DB, error) {
	cfg, err := loadDatabaseConfig(*flags)
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	db, err := database.InitDatabase(cfg, false)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	return db, nil
}

func envDefault(value, env string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return os.Getenv(env)
}

func loadDatabaseConfig(f dbFlags) (config.DatabaseConfig, error) {
	host := envDefault(f.host, "DATABASE_HOST")
	port := f.port
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	name := envDefault(f.name, "POSTGRES_DB")
	user := envDefault(f.user, "POSTGRES_USER")
	password := envDefault(f.password, "POSTGRES_PASSWORD")
	sslmode := envDefault(f.sslMode, "DATABASE_SSLMODE")

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
