// deployer deploys manifest-described serverless applications from git
// repositories. It serves the web deploy action and the queued activation API
// ("deployer serve", the default) or runs one job invocation and prints its
// envelope ("deployer invoke --params params.json").
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/artpar/deployer/internal/shell/action"
	"github.com/spf13/pflag"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	flagSet := pflag.NewFlagSet("deployer "+command, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.StringP("config", "c", "", "path to config file")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	var paramsPath string
	if command == "invoke" {
		flagSet.StringVarP(&paramsPath, "params", "p", "-", "YAML or JSON params file, - for stdin")
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		return ExitConfigError
	}

	if *showVersion {
		fmt.Fprintf(stdout, "deployer %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	switch command {
	case "serve", "invoke":
	default:
		fmt.Fprintf(stderr, "unknown command %q (want serve or invoke)\n", command)
		return ExitConfigError
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)

	if command == "invoke" {
		return runInvoke(cfg, paramsPath, stdin, stdout)
	}

	logger.Info("starting deployer",
		"version", Version,
		"config", *configPath,
	)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return exitCode(logger.Error, "failed to create server", err)
	}

	if err := server.Start(context.Background()); err != nil {
		return exitCode(logger.Error, "server error", err)
	}

	return ExitSuccess
}

func runInvoke(cfg *Config, paramsPath string, stdin io.Reader, stdout io.Writer) int {
	logger := SetupLogger(cfg).With("command", "invoke")

	var (
		p   action.Params
		err error
	)
	if paramsPath == "-" {
		p, err = action.DecodeParams(stdin)
	} else {
		p, err = action.LoadParams(paramsPath)
	}
	if err != nil {
		logger.Error("failed to read params", "error", err)
		return ExitConfigError
	}

	env, err := Invoke(context.Background(), cfg, p, logger)
	if err != nil {
		return exitCode(logger.Error, "failed to invoke", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		logger.Error("failed to write envelope", "error", err)
		return ExitConfigError
	}

	if !env.Success {
		return ExitDeployFailed
	}
	return ExitSuccess
}

func exitCode(log func(string, ...any), msg string, err error) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		log(msg, "error", sErr.Err, "operation", sErr.Op)
		return sErr.ExitCode
	}
	log(msg, "error", err)
	return ExitConfigError
}
