package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"slidecat/internal/store"
	"slidecat/pkg/catalog"
	"slidecat/pkg/config"
	"slidecat/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

const (
	defaultConfigFile = "slidecat.yaml"
	envPrefix         = "SLIDECAT"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configFile string
	cfg        *config.Config
	log        logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "slidecat",
		Short: "Catalog whole-slide images and their tumor annotations",
		Long: `slidecat discovers pyramidal slide images and ASAP XML annotations in a
dataset folder, validates them and renders annotated regions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "init" {
				return nil
			}
			return a.load(cmd.Flags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", defaultConfigFile, "config file")
	flags.String("dataset", "", "labeled dataset root (overrides dataset.dir)")
	flags.String("custom", "", "flat folder of unlabeled images (overrides dataset.customDir)")
	flags.String("store", "", "slide database (overrides store.path)")
	flags.String("log-level", "", "debug, info, warn or error (overrides logging.level)")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newExportCmd(a),
		newIndexCmd(a),
		newThresholdsCmd(a),
	)
	return root
}

// overrides maps config keys to the flags that may set them. Every key can
// also be set through the environment, e.g. SLIDECAT_DATASET_DIR.
var overrides = []struct {
	key  string
	flag string
	set  func(*config.Config, *viper.Viper, string)
}{
	{"dataset.dir", "dataset", func(c *config.Config, v *viper.Viper, k string) { c.Dataset.Dir = v.GetString(k) }},
	{"dataset.customdir", "custom", func(c *config.Config, v *viper.Viper, k string) { c.Dataset.CustomDir = v.GetString(k) }},
	{"dataset.stagesfile", "", func(c *config.Config, v *viper.Viper, k string) { c.Dataset.StagesFile = v.GetString(k) }},
	{"rendering.level", "", func(c *config.Config, v *viper.Viper, k string) { c.Rendering.Level = v.GetInt(k) }},
	{"rendering.padding", "", func(c *config.Config, v *viper.Viper, k string) { c.Rendering.Padding = v.GetInt(k) }},
	{"rendering.outputdir", "", func(c *config.Config, v *viper.Viper, k string) { c.Rendering.OutputDir = v.GetString(k) }},
	{"store.path", "store", func(c *config.Config, v *viper.Viper, k string) { c.Store.Path = v.GetString(k) }},
	{"logging.level", "log-level", func(c *config.Config, v *viper.Viper, k string) { c.Logging.Level = v.GetString(k) }},
	{"logging.format", "", func(c *config.Config, v *viper.Viper, k string) { c.Logging.Format = v.GetString(k) }},
}

// load reads the YAML config, then applies environment and flag overrides.
func (a *app) load(flags *pflag.FlagSet) error {
	cfg, err := config.LoadConfig(a.configFile)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range overrides {
		if o.flag != "" {
			if err := v.BindPFlag(o.key, flags.Lookup(o.flag)); err != nil {
				return fmt.Errorf("bind flag %s: %w", o.flag, err)
			}
		}
		if v.IsSet(o.key) {
			o.set(cfg, v, o.key)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(cfg)
	return nil
}

func newLogger(cfg *config.Config) logger.Logger {
	level := logger.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Format == "json" {
		return logger.NewZerolog(os.Stderr, level)
	}
	return logger.NewConsoleLogger(level)
}

// openStore opens the configured slide database.
func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.Store.Path, store.WithLogger(a.log))
}

// openCatalog builds the catalog. Thresholds are read from src when given.
func (a *app) openCatalog(src catalog.ThresholdSource) (*catalog.Manager, error) {
	opts := a.cfg.CatalogOptions()
	opts.Logger = a.log
	opts.Thresholds = src
	return catalog.New(opts)
}

// withCatalog builds the catalog with thresholds from the store, if one
// exists, and closes both after fn.
func (a *app) withCatalog(fn func(*catalog.Manager) error) error {
	var src catalog.ThresholdSource
	if _, err := os.Stat(a.cfg.Store.Path); err == nil {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		src = st
	}

	m, err := a.openCatalog(src)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
