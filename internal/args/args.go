package args

import (
	"github.com/spf13/pflag"
)

type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

var configFilePath string
var environment string

func Init() {
	pflag.StringVar(&configFilePath, "config", "", "path to the yaml config file")
	pflag.StringVar(&environment, "environment", string(EnvironmentDevelopment), "runtime environment (development or production)")
	pflag.Parse()
}

func ConfigFilePath() string {
	return configFilePath
}

func IsProduction() bool {
	return Environment(environment) == EnvironmentProduction
}
