package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var Conf = config{}

var (
	CfgPath string
	Env     string
)

type config struct {
	Postgresql PostgresqlConfig `mapstructure:"postgresql" yaml:"postgresql"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	HTTPServer HTTPServerConfig `mapstructure:"httpserver" yaml:"httpserver"`
	Executor   ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
	Playbook   PlaybookConfig   `mapstructure:"playbook" yaml:"playbook"`
	Notifier   NotifierConfig   `mapstructure:"notifier" yaml:"notifier"`
	GuardRail  GuardRailConfig  `mapstructure:"guardrail" yaml:"guardrail"`
}

type HTTPServerConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	APIKey         string `mapstructure:"apikey" yaml:"apikey"`
	ClientMaxConns int    `mapstructure:"client-max-conns" yaml:"client-max-conns"`
}

type PostgresqlConfig struct {
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password"`
	Database     string `mapstructure:"database" yaml:"database"`
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	LogMode      bool   `mapstructure:"log-mode" yaml:"log-mode"`
	MaxIdleConns int    `mapstructure:"max-idle-conns" yaml:"max-idle-conns"`
	MaxOpenConns int    `mapstructure:"max-open-conns" yaml:"max-open-conns"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	Password     string `mapstructure:"password" yaml:"password"`
	Database     int    `mapstructure:"database" yaml:"database"`
	MaxIdleConns int    `mapstructure:"max-idle-conns" yaml:"max-idle-conns"`
}

type ExecutorConfig struct {
	LogPath                 string `mapstructure:"log-path" yaml:"log-path"`
	Workers                 int    `mapstructure:"workers" yaml:"workers"`
	Mode                    string `mapstructure:"mode" yaml:"mode"`
	AlertStream             string `mapstructure:"alert-stream" yaml:"alert-stream"`
	ConsumerGroup           string `mapstructure:"consumer-group" yaml:"consumer-group"`
	ConsumerName            string `mapstructure:"consumer-name" yaml:"consumer-name"`
	DuplicatePolicy         string `mapstructure:"duplicate-policy" yaml:"duplicate-policy"`
	DuplicateWaitSeconds    int    `mapstructure:"duplicate-wait-seconds" yaml:"duplicate-wait-seconds"`
	StepTimeoutSeconds      int    `mapstructure:"step-timeout-seconds" yaml:"step-timeout-seconds"`
	CeilingSeconds          int    `mapstructure:"ceiling-seconds" yaml:"ceiling-seconds"`
	StaleReservationSeconds int    `mapstructure:"stale-reservation-seconds" yaml:"stale-reservation-seconds"`
}

type PlaybookConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir"`
	HotReload bool   `mapstructure:"hot-reload" yaml:"hot-reload"`
}

type NotifierConfig struct {
	LarkWebHook   string `mapstructure:"lark-webhook" yaml:"lark-webhook"`
	SlackWebHook  string `mapstructure:"slack-webhook" yaml:"slack-webhook"`
	FreezeURL     string `mapstructure:"freeze-url" yaml:"freeze-url"`
	EscalateURL   string `mapstructure:"escalate-url" yaml:"escalate-url"`
	RollbackURL   string `mapstructure:"rollback-url" yaml:"rollback-url"`
	ReconcileURL  string `mapstructure:"reconcile-url" yaml:"reconcile-url"`
	ActionTimeout int    `mapstructure:"action-timeout-seconds" yaml:"action-timeout-seconds"`
}

type GuardRailConfig struct {
	ProtectedEntities []string `mapstructure:"protected-entities" yaml:"protected-entities"`
}

func SetupConfig(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		if len(CfgPath) < 1 {
			panic(fmt.Errorf("failed to get config path %s", CfgPath))
		}
		viper.SetConfigName("config." + Env)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(CfgPath)
	}

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("failed to read configuration file: %v", err))
	}
	// load config info to global Config variable
	if err = viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("failed to unmarshal configuration file %v", err))
	}

	logrus.Infof("read configuration file successfully")
}
