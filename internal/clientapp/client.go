// Package clientapp wires pkg/rpcclient and pkg/demoworker's wire formats
// into the demo CLI cmd/client runs against a live server.
package clientapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/config"
	"github.com/halvard-eide/rrworker/pkg/demoworker"
	"github.com/halvard-eide/rrworker/pkg/rpcclient"
	"github.com/halvard-eide/rrworker/pkg/seqnum"
)

// Overrides carries the CLI flag values cmd/client lets an operator set
// that take precedence over pkg/config's environment-derived defaults.
type Overrides struct {
	ServerHost string
	ServerPort int
	User       string
	Session    string // empty means "generate one with uuid.New()", mirroring clientImpl.Connect
	Count      int
	LogLevel   string
}

// Result mirrors the teacher's pkg/client.Result shape (checksum/success/
// error) generalized from a fixed number sequence to an arbitrary run of
// submit_work calls.
type Result struct {
	UnitsSubmitted int
	LastResponse   string
	Error          error
}

// Run submits Count demo WorkUnits in session order against the server at
// ServerHost:ServerPort and returns a summary Result.
func Run(ov Overrides) Result {
	if err := godotenv.Load(".env.client"); err != nil {
		log.Println("clientapp: no .env.client file found, continuing with process environment")
	}

	conf, err := config.LoadForClient()
	if err != nil {
		return Result{Error: err}
	}
	applyOverrides(conf, ov)

	logger := logrus.New()
	logLevel, parseErr := logrus.ParseLevel(conf.LogLevel)
	if parseErr != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	sessionName := ov.Session
	if sessionName == "" {
		// Mirrors clientImpl.Connect assigning uuid.New() when the caller
		// supplies no client id of its own.
		sessionName = uuid.New().String()
	}

	user := ov.User
	if user == "" {
		user = "demo"
	}

	client := rpcclient.New(fmt.Sprintf("http://%s:%d", conf.ServerHost, conf.ServerPort), user+":"+sessionName)

	count := ov.Count
	if count <= 0 {
		count = 1
	}

	var last string
	for i := 0; i < count; i++ {
		unit := demoworker.WorkUnit{
			RuntimeMillis: 10,
			Message:       fmt.Sprintf("unit %d of %d", i+1, count),
			SessionID:     user + "@" + sessionName,
			FirstUnit:     i == 0,
		}
		payload, marshalErr := json.Marshal(unit)
		if marshalErr != nil {
			return Result{UnitsSubmitted: i, Error: marshalErr}
		}

		result, callErr := client.SubmitWork(context.Background(), payload, seqnum.Ordered(uint64(i)))
		if callErr != nil {
			logger.WithError(callErr).WithField("unit", i).Error("clientapp: submit_work failed")
			return Result{UnitsSubmitted: i, Error: callErr}
		}
		last = string(result)
		logger.WithField("unit", i).WithField("result", last).Info("clientapp: submit_work succeeded")
	}

	return Result{UnitsSubmitted: count, LastResponse: last}
}

func applyOverrides(conf *config.ClientConfig, ov Overrides) {
	if ov.ServerHost != "" {
		conf.ServerHost = ov.ServerHost
	}
	if ov.ServerPort != 0 {
		conf.ServerPort = ov.ServerPort
	}
	if ov.LogLevel != "" {
		conf.LogLevel = ov.LogLevel
	}
}

// PrintResult prints a Result the way the teacher's printResult did for its
// own Result type.
func PrintResult(result Result) {
	fmt.Print("Result\n____________\n\n\n")
	fmt.Printf("Units submitted: %d\n", result.UnitsSubmitted)
	fmt.Printf("Last response: %s\n", result.LastResponse)
	if result.Error != nil {
		fmt.Printf("Error: %s\n", result.Error)
	}
}
