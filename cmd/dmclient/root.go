package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"instanext/internal/client"
	"instanext/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dmclient",
	Short: "Terminal client for InstaNext direct messages",
	Long: `Terminal client for InstaNext direct messages.

Every flag can also be set through the environment with the DMCLIENT_ prefix,
for example DMCLIENT_SERVER or DMCLIENT_TOKEN.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "Base URL of the messaging server")
	flags.String("token", "", "Access token, skips login when set")
	flags.String("email", "", "Account email used to log in")
	flags.String("password", "", "Account password used to log in")
	flags.Duration("timeout", client.DefaultSendTimeout, "Request timeout")
	flags.BoolP("verbose", "v", false, "Log connection details to stderr")

	for _, name := range []string{"server", "token", "email", "password", "timeout", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func initConfig() {
	viper.SetEnvPrefix("dmclient")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger() logger.Logger {
	if viper.GetBool("verbose") {
		return logger.NewDevelopment()
	}
	return logger.NewNop()
}

// authenticate возвращает API-клиент с токеном и id текущего пользователя.
func authenticate(ctx context.Context) (*client.APIClient, string, error) {
	server := viper.GetString("server")
	timeout := viper.GetDuration("timeout")

	if token := viper.GetString("token"); token != "" {
		api := client.NewAPIClient(server, token, timeout)
		userID, err := client.UserIDFromToken(token)
		if err != nil {
			return nil, "", err
		}
		return api, userID, nil
	}

	email, password := viper.GetString("email"), viper.GetString("password")
	if email == "" || password == "" {
		return nil, "", fmt.Errorf("either --token or --email and --password are required")
	}

	api := client.NewAPIClient(server, "", timeout)
	loginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := api.Login(loginCtx, email, password)
	if err != nil {
		return nil, "", fmt.Errorf("login failed: %w", err)
	}
	return api, result.User.ID, nil
}

func formatTime(t time.Time) string {
	return t.Local().Format("15:04:05")
}
