// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/confighub/configapi"
	"github.com/cardinalhq/confighub/internal/configcache"
	"github.com/cardinalhq/confighub/internal/overrides"
	"github.com/cardinalhq/confighub/internal/snapshotsvc"
)

// SweepConfig tunes the retention sweep over unreferenced blobs.
type SweepConfig struct {
	// MinAge is the minimum age before an unreferenced blob is eligible.
	MinAge time.Duration `mapstructure:"min_age"`

	// BatchSize caps how many candidates one sweep pass examines.
	BatchSize int `mapstructure:"batch_size"`
}

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	API       configapi.Config   `mapstructure:"api"`
	Cache     configcache.Config `mapstructure:"cache"`
	Overrides overrides.Config   `mapstructure:"overrides"`
	Snapshot  snapshotsvc.Config `mapstructure:"snapshot"`
	Sweep     SweepConfig        `mapstructure:"sweep"`

	// PushInvalidation enables the LISTEN/NOTIFY subscriber so activations
	// propagate faster than the pointer TTL.
	PushInvalidation bool `mapstructure:"push_invalidation"`
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "CONFIGHUB" and the dot character
// in keys is replaced by an underscore. For example, "api.addr" becomes
// "CONFIGHUB_API_ADDR".
func Load() (*Config, error) {
	cfg := &Config{
		Cache:     configcache.Config{StaleGrace: 2 * time.Minute},
		Overrides: overrides.Config{Policy: overrides.PolicyOn},
		Sweep: SweepConfig{
			MinAge:    30 * 24 * time.Hour,
			BatchSize: 500,
		},
		PushInvalidation: true,
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CONFIGHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if keys := v.GetString("api.apikeys"); keys != "" {
		cfg.API.APIKeys = strings.Split(keys, ",")
	}
	if allow := v.GetString("overrides.allowlist"); allow != "" {
		cfg.Overrides.Allowlist = strings.Split(allow, ",")
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
