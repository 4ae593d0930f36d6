package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gosuri/uitable"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

const (
	configFlagName      = "config"
	printConfigFlagName = "print-config"
)

// secretKeyParts marks config keys whose values are masked when printed.
var secretKeyParts = []string{"password", "secret", "token"}

func (a *App) addConfigFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&a.configFile, configFlagName, "c", a.configFile,
		fmt.Sprintf("Read configuration from the specified file, support JSON, TOML, YAML, HCL, or Java properties formats. Defaults to %s.yaml in the working directory or $HOME/.%s.", a.basename, a.basename))
	fs.BoolVar(&a.printConfig, printConfigFlagName, a.printConfig, "Print the effective configuration before starting.")
}

// loadConfig reads the config file and binds the environment. A missing
// default config file is not an error.
func (a *App) loadConfig() error {
	a.viper.SetEnvPrefix(a.envPrefix)
	a.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.viper.AutomaticEnv()

	if a.configFile != "" {
		a.viper.SetConfigFile(a.configFile)
	} else {
		a.viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			a.viper.AddConfigPath(filepath.Join(home, "."+a.basename))
		}
		a.viper.SetConfigName(a.basename)
	}

	if err := a.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read configuration file %q: %w", a.configFile, err)
		}
		return nil
	}

	a.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, restart to apply", "file", e.Name, "op", e.Op.String())
	})
	a.viper.WatchConfig()
	return nil
}

// printConfigTable writes every effective setting as an aligned table.
func printConfigTable(w io.Writer, v *viper.Viper) {
	keys := v.AllKeys()
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)

	table := uitable.New()
	table.Separator = " "
	table.MaxColWidth = 80
	table.RightAlign(0)
	for _, k := range keys {
		table.AddRow(k+":", maskSecret(k, v.Get(k)))
	}
	fmt.Fprintf(w, "%v\n", table)
}

func maskSecret(key string, value any) any {
	lower := strings.ToLower(key)
	for _, part := range secretKeyParts {
		if strings.Contains(lower, part) {
			if s, ok := value.(string); ok && s == "" {
				return ""
			}
			return "******"
		}
	}
	return value
}
