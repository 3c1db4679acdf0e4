package config

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Load builds the configuration from, in increasing priority: the defaults of
// the selected profile, the file named by the "config" key, DIDON_* environment
// variables and any flag already bound to v. The result is validated.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	profile := strings.ToUpper(v.GetString("profile"))
	if profile == "" {
		profile = DefaultProfile
	}
	setDefaults(v, Default(profile))

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading configuration file '%s'", file)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, errors.Wrap(err, "decoding configuration")
	}
	cfg.Profile = profile

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("profile", d.Profile)

	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.endpoint", d.Source.Endpoint)
	v.SetDefault("source.user", d.Source.User)
	v.SetDefault("source.password", d.Source.Password)
	v.SetDefault("source.base", d.Source.Base)
	v.SetDefault("source.timeout", d.Source.Timeout)
	v.SetDefault("source.dir", d.Source.Dir)

	v.SetDefault("destination.driver", d.Destination.Driver)
	v.SetDefault("destination.dsn", d.Destination.DSN)
	v.SetDefault("destination.host", d.Destination.Host)
	v.SetDefault("destination.port", d.Destination.Port)
	v.SetDefault("destination.user", d.Destination.User)
	v.SetDefault("destination.password", d.Destination.Password)
	v.SetDefault("destination.database", d.Destination.Database)
	v.SetDefault("destination.schema", d.Destination.Schema)
	v.SetDefault("destination.sslmode", d.Destination.SSLMode)
	v.SetDefault("destination.path", d.Destination.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.program", d.Log.Program)

	v.SetDefault("processing.last_year", d.Processing.LastYear)
	v.SetDefault("processing.years_back", d.Processing.YearsBack)
	v.SetDefault("processing.days_back", d.Processing.DaysBack)
	v.SetDefault("processing.insert_enabled", d.Processing.InsertEnabled)
	v.SetDefault("processing.timezone", d.Processing.Timezone)
	v.SetDefault("processing.workers", d.Processing.Workers)

	v.SetDefault("identifiers", d.Identifiers)

	for key, p := range d.Granularities {
		v.SetDefault("granularities."+key+".period", string(p.Period))
		v.SetDefault("granularities."+key+".threshold", p.Threshold)
		v.SetDefault("granularities."+key+".precision", p.Precision)
	}

	v.SetDefault("sanitize.values", d.Sanitize.Values)
	v.SetDefault("sanitize.codes", d.Sanitize.Codes)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.interval", d.Server.Interval)
	v.SetDefault("server.granularities", d.Server.Granularities)
}
