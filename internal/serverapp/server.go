// Package serverapp wires pkg/config, pkg/scheduler, and pkg/demoworker
// into the process cmd/server runs, following the same godotenv + logrus
// pattern the teacher uses for its own server wiring.
package serverapp

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/config"
	"github.com/halvard-eide/rrworker/pkg/demoworker"
	"github.com/halvard-eide/rrworker/pkg/rpc"
	"github.com/halvard-eide/rrworker/pkg/scheduler"
)

// Overrides carries the CLI flag values cmd/server lets an operator set
// that take precedence over pkg/config's environment-derived defaults.
type Overrides struct {
	ListenIP        string
	ListenPort      int
	PrePoolSize     int
	PostPoolSize    int
	IdleTimeoutSecs int
	ReleaseSecs     int
	UserSliceMillis int
	LogLevel        string
	AdminToken      string
}

// Run loads configuration, assembles a scheduler.Scheduler around
// pkg/demoworker's sample Worker, and blocks serving until idle-timeout
// shutdown or a fatal error. Exit codes: 0 on an idle-timeout-triggered
// shutdown, non-zero otherwise, per spec.md §6.
func Run(ov Overrides) (idleShutdown bool, err error) {
	if loadErr := godotenv.Load(".env.server"); loadErr != nil {
		log.Println("serverapp: no .env.server file found, continuing with process environment")
	}

	conf, err := config.Load()
	if err != nil {
		return false, err
	}
	applyOverrides(conf, ov)

	logger := logrus.New()
	logLevel, parseErr := logrus.ParseLevel(conf.LogLevel)
	if parseErr != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	events := scheduler.NewEventHub(logger)

	sched := scheduler.New(
		scheduler.Config{
			ListenAddr:      fmt.Sprintf("%s:%d", conf.ListenIP, conf.ListenPort),
			PrePoolSize:     conf.PrePoolSize,
			PostPoolSize:    conf.PostPoolSize,
			IdleTimeout:     conf.IdleTimeout,
			ReleaseInterval: conf.ReleaseInterval,
			UserSlice:       conf.UserSliceMillis,
			MaxPayloadBytes: conf.MaxPayloadBytes,
			AdminToken:      conf.AdminToken,
		},
		demoworker.New(logger),
		rpc.DefaultVerifier{},
		events,
		logger,
	)

	var fired atomic.Bool
	sched.OnIdleShutdown(func() { fired.Store(true) })

	logger.WithField("addr", fmt.Sprintf("%s:%d", conf.ListenIP, conf.ListenPort)).Info("serverapp: starting")
	if startErr := sched.Start(); startErr != nil {
		return false, startErr
	}
	return fired.Load(), nil
}

func applyOverrides(conf *config.Config, ov Overrides) {
	if ov.ListenIP != "" {
		conf.ListenIP = ov.ListenIP
	}
	if ov.ListenPort != 0 {
		conf.ListenPort = ov.ListenPort
	}
	if ov.PrePoolSize != 0 {
		conf.PrePoolSize = ov.PrePoolSize
	}
	if ov.PostPoolSize != 0 {
		conf.PostPoolSize = ov.PostPoolSize
	}
	if ov.IdleTimeoutSecs != 0 {
		conf.IdleTimeout = time.Duration(ov.IdleTimeoutSecs) * time.Second
	}
	if ov.ReleaseSecs != 0 {
		conf.ReleaseInterval = time.Duration(ov.ReleaseSecs) * time.Second
	}
	if ov.UserSliceMillis != 0 {
		conf.UserSliceMillis = time.Duration(ov.UserSliceMillis) * time.Millisecond
	}
	if ov.LogLevel != "" {
		conf.LogLevel = ov.LogLevel
	}
	if ov.AdminToken != "" {
		conf.AdminToken = ov.AdminToken
	}
}
