package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chainsentry/reactor/adapter"
	"github.com/chainsentry/reactor/config"
	"github.com/chainsentry/reactor/datastore"
	"github.com/chainsentry/reactor/dispatch"
	"github.com/chainsentry/reactor/guardrail"
	"github.com/chainsentry/reactor/idempotency"
	"github.com/chainsentry/reactor/log"
	"github.com/chainsentry/reactor/model"
	"github.com/chainsentry/reactor/playbook"
)

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "consume alerts and drive playbook executions",
	Run: func(cmd *cobra.Command, args []string) {
		configFile, _ := cmd.Flags().GetString("config")
		config.SetupConfig(configFile)
		log.InitLog(config.Conf.Executor.LogPath)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, registry := buildEngine()
		if config.Conf.Playbook.HotReload {
			if err := registry.Watch(ctx); err != nil {
				logrus.Panicf("watch playbook dir is err: %v", err)
			}
		}
		if err := engine.Recover(ctx); err != nil {
			logrus.Errorf("recover unknown outcomes is err: %v", err)
		}

		consumer := dispatch.NewConsumer(engine)
		if err := consumer.Run(ctx); err != nil {
			logrus.Panicf("run alert consumer is err: %v", err)
		}
	},
}

func buildEngine() (*dispatch.Engine, *playbook.Registry) {
	if err := model.Migrate(); err != nil {
		logrus.Panicf("migrate executor tables is err: %v", err)
	}
	adapters := buildAdapters()
	registry, err := playbook.NewRegistry(config.Conf.Playbook.Dir, adapters.Supports)
	if err != nil {
		logrus.Panicf("load playbooks is err: %v", err)
	}

	executorConf := config.Conf.Executor
	stepTimeout := time.Duration(executorConf.StepTimeoutSeconds) * time.Second
	engine := dispatch.NewEngine(dispatch.Options{
		Registry:        registry,
		Adapters:        adapters,
		Store:           idempotency.NewPGStore(),
		Locker:          dispatch.NewRedisLocker(datastore.Redis(), 2*stepTimeout+time.Minute),
		Policy:          guardrail.PolicyFromConfig(),
		DefaultMode:     model.ExecutionMode(executorConf.Mode),
		DuplicatePolicy: executorConf.DuplicatePolicy,
		DuplicateWait:   time.Duration(executorConf.DuplicateWaitSeconds) * time.Second,
		StepTimeout:     stepTimeout,
		Ceiling:         time.Duration(executorConf.CeilingSeconds) * time.Second,
		StaleAfter:      time.Duration(executorConf.StaleReservationSeconds) * time.Second,
	})
	return engine, registry
}

func buildAdapters() *adapter.Registry {
	reg := &adapter.Registry{}
	notifierConf := config.Conf.Notifier
	switch {
	case notifierConf.LarkWebHook != "":
		reg.Notify = adapter.NewLarkNotifier(notifierConf.LarkWebHook)
	case notifierConf.SlackWebHook != "":
		reg.Notify = adapter.NewSlackNotifier(notifierConf.SlackWebHook)
	}

	actions := &adapter.HTTPActions{
		FreezeURL:    notifierConf.FreezeURL,
		EscalateURL:  notifierConf.EscalateURL,
		RollbackURL:  notifierConf.RollbackURL,
		ReconcileURL: notifierConf.ReconcileURL,
	}
	if notifierConf.FreezeURL != "" {
		reg.Freeze = actions
	}
	if notifierConf.EscalateURL != "" {
		reg.Escalate = actions
	}
	if notifierConf.RollbackURL != "" {
		reg.Rollback = actions
	}
	if notifierConf.ReconcileURL != "" {
		reg.Reconcile = actions
	}
	return reg
}

func init() {
	executorCmd.Flags().String("config", "", "set config file path")
	executorCmd.Flags().StringVarP(&config.CfgPath, "config-dir", "d", "", "set config directory")
	executorCmd.Flags().StringVarP(&config.Env, "env", "e", "dev", "server environment type, available: dev, prod")
}
