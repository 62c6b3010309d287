// Package envflags resolves a setting from the command line, the loaded
// config (file and LIVEFN_ environment) and the flag default, in that order.
package envflags

import (
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// GetEnvOrFlag returns the command line flag value, or falls back to the environment variable if the flag is empty
func GetEnvOrFlag(cmd *cli.Command, flagName, envName string) string {
	value := cmd.String(flagName)
	if value == "" {
		value = os.Getenv(envName)
	}
	return value
}

// String returns the flag if it was set explicitly, then the config value,
// then the flag's default.
func String(cmd *cli.Command, flagName, configValue string) string {
	if !cmd.IsSet(flagName) && configValue != "" {
		return configValue
	}
	return cmd.String(flagName)
}

func Int(cmd *cli.Command, flagName string, configValue int) int {
	if !cmd.IsSet(flagName) && configValue != 0 {
		return configValue
	}
	return int(cmd.Int(flagName))
}

// Bool takes a pointer so a config value of false can override a true
// default.
func Bool(cmd *cli.Command, flagName string, configValue *bool) bool {
	if !cmd.IsSet(flagName) && configValue != nil {
		return *configValue
	}
	return cmd.Bool(flagName)
}

func Duration(cmd *cli.Command, flagName string, configValue time.Duration) time.Duration {
	if !cmd.IsSet(flagName) && configValue != 0 {
		return configValue
	}
	return cmd.Duration(flagName)
}
