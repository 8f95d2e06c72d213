package main

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

// bind registers v as a flag on fs and lets the environment and default fill it.
func bind[T any](vp *viper.Viper, fs *pflag.FlagSet, v configVar[T]) {
	switch d := any(v.defaultValue).(type) {
	case string:
		fs.String(v.flagKey, d, v.usage)
	case int:
		fs.Int(v.flagKey, d, v.usage)
	case bool:
		fs.Bool(v.flagKey, d, v.usage)
	case time.Duration:
		fs.Duration(v.flagKey, d, v.usage)
	}

	vp.BindPFlag(v.flagKey, fs.Lookup(v.flagKey))
	vp.BindEnv(v.flagKey, v.envKey)
	vp.SetDefault(v.flagKey, v.defaultValue)
}
