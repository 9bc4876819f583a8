// Command keys administra las claves de firma directamente contra el secret
// store configurado (sin pasar por el servicio HTTP).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/journal-auth/internal/app"
	"github.com/dropDatabas3/journal-auth/internal/audit"
	"github.com/dropDatabas3/journal-auth/internal/config"
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/http/controllers/admin"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/m2m"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
	"github.com/dropDatabas3/journal-auth/internal/security/secretbox"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/all"
)

func main() {
	var (
		configPath = envOr("CONFIG_PATH", "")
		envFile    = ".env"
		out        = envOr("KEYS_OUT", "text")
		timeout    = 30 * time.Second
		cfg        *config.Config
	)

	root := &cobra.Command{
		Use:           "keys",
		Short:         "Administración de claves de firma de journal-auth",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "ruta a config.yaml (env CONFIG_PATH)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (si existe, se carga)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	// Los subcomandos que tocan el store cargan config; los utilitarios no.
	loadCfg := func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			_ = godotenv.Load(envFile)
		}
		logger.Init(logger.Config{Env: "dev", Level: "warn", ServiceName: "keys"})
		c, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		cfg = c
		return nil
	}

	openKeys := func(ctx context.Context, bootstrap bool) (*app.Keys, error) {
		return app.OpenKeys(ctx, cfg, bootstrap)
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "Lista las claves del secret store con su estado",
		PreRunE: loadCfg,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(audit.WithActor(cmd.Context(), "cli:keys"), timeout)
			defer cancel()
			k, err := openKeys(ctx, false)
			if err != nil {
				return err
			}
			defer k.Close()
			return printRing(out, k.Manager.Snapshot())
		},
	}

	var (
		rotForce  bool
		rotReason string
	)
	rotateCmd := &cobra.Command{
		Use:     "rotate",
		Short:   "Rota la clave activa (respeta overlap salvo --force)",
		PreRunE: loadCfg,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(audit.WithActor(cmd.Context(), "cli:keys"), timeout)
			defer cancel()
			k, err := openKeys(ctx, true)
			if err != nil {
				return err
			}
			defer k.Close()
			var nk *repository.SigningKey
			if rotForce {
				nk, err = k.Manager.RotateNow(ctx, rotReason)
			} else {
				nk, err = k.Manager.Rotate(ctx)
			}
			if err != nil {
				return fmt.Errorf("rotate: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "nueva clave: %s (%s)\n", nk.ID, nk.Status)
			return printRing(out, k.Manager.Snapshot())
		},
	}
	rotateCmd.Flags().BoolVar(&rotForce, "force", false, "rotación de emergencia (ignora overlap)")
	rotateCmd.Flags().StringVar(&rotReason, "reason", "manual", "motivo (queda en auditoría)")

	var retireKID string
	retireCmd := &cobra.Command{
		Use:     "retire",
		Short:   "Retira una clave (--kid) o todas las que cumplieron el overlap",
		PreRunE: loadCfg,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(audit.WithActor(cmd.Context(), "cli:keys"), timeout)
			defer cancel()
			k, err := openKeys(ctx, false)
			if err != nil {
				return err
			}
			defer k.Close()
			if retireKID != "" {
				if err := k.Manager.Retire(ctx, retireKID); err != nil {
					return fmt.Errorf("retire %s: %w", retireKID, err)
				}
			} else {
				n, err := k.Manager.RetireExpired(ctx)
				if err != nil {
					return fmt.Errorf("retire: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "retiradas: %d\n", n)
			}
			return printRing(out, k.Manager.Snapshot())
		},
	}
	retireCmd.Flags().StringVar(&retireKID, "kid", "", "kid a retirar (vacío: las vencidas)")

	genMasterCmd := &cobra.Command{
		Use:   "gen-master-key",
		Short: "Genera una master key para secrets.master_key (driver fs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := secretbox.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k)
			return nil
		},
	}

	hashSecretCmd := &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Hashea (bcrypt) un client secret para el registry m2m",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := m2m.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	root.AddCommand(listCmd, rotateCmd, retireCmd, genMasterCmd, hashSecretCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func printRing(format string, ring *jwt.Keyring) error {
	if format == "json" {
		views := make([]any, 0)
		for _, k := range ring.Keys() {
			views = append(views, admin.KeyView(k))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"version": ring.Version, "keys": views})
	}
	fmt.Printf("keyring v%d\n", ring.Version)
	for _, k := range ring.Keys() {
		v := admin.KeyView(k)
		line := fmt.Sprintf("%-38s %-9s created=%s activation=%s", v.KID, v.Status,
			v.CreatedAt.Format(time.RFC3339), v.ActivationAt.Format(time.RFC3339))
		if v.ExpiresAt != nil {
			line += " expires=" + v.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Println(line)
	}
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
