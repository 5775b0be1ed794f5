// Package cmd wires the command-line surface of lavarun.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lavakit/lavarun/internal/runner"
	"github.com/lavakit/lavarun/pkg/logsink"
)

var rootCmd = &cobra.Command{
	Use:   "lavarun [flags] <definition.yaml>",
	Short: "Run a single test job to completion",
	Long: `Run a single test job described by a YAML definition against a
device configuration, report exactly one structured outcome record and
write the job description artifact into the output directory.

Example:
  lavarun --job-id 4212 --output-dir /var/lib/lavarun/4212 \
          --device qemu01.yaml job.yaml
  lavarun --validate --output-dir /tmp/check --device qemu01.yaml job.yaml`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runJob,
}

var (
	jobID          string
	outputDir      string
	devicePath     string
	dispatcherPath string
	envPath        string
	validateOnly   bool
	loggingURL     string
	masterCert     string
	slaveCert      string
	socksProxy     string
	preferIPv6     bool
)

// exitStatus is the process exit code decided by the run. RunE never
// returns an error for run failures: by then the failure has already
// been classified, reported and logged.
var exitStatus int

// geteuid is swapped in tests to exercise the privilege check.
var geteuid = os.Geteuid

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&jobID, "job-id", "", "Job identifier (default: a new UUID)")
	flags.StringVar(&outputDir, "output-dir", "", "Directory for job artifacts (required)")
	flags.StringVar(&devicePath, "device", "", "Device configuration YAML (required)")
	flags.StringVar(&dispatcherPath, "dispatcher", "", "Dispatcher configuration YAML")
	flags.StringVar(&envPath, "env", "", "Environment overlay YAML")
	flags.BoolVar(&validateOnly, "validate", false, "Parse and validate only, skip execution")
	flags.StringVar(&loggingURL, "logging-url", "", "Remote log endpoint (host:port)")
	flags.StringVar(&masterCert, "master-cert", "", "Certificate authenticating the remote endpoint")
	flags.StringVar(&slaveCert, "slave-cert", "", "Client certificate and key for mutual authentication")
	flags.StringVar(&socksProxy, "socks-proxy", "", "SOCKS5 proxy for the remote log transport")
	flags.BoolVar(&preferIPv6, "ipv6", false, "Prefer IPv6 for the remote log transport")

	_ = rootCmd.MarkFlagRequired("output-dir")
	_ = rootCmd.MarkFlagRequired("device")

	// Transport settings may come from the dispatcher environment
	// instead of flags: LAVARUN_LOGGING_URL, LAVARUN_MASTER_CERT, ...
	viper.SetEnvPrefix("LAVARUN")
	_ = viper.BindPFlag("logging_url", flags.Lookup("logging-url"))
	_ = viper.BindPFlag("master_cert", flags.Lookup("master-cert"))
	_ = viper.BindPFlag("slave_cert", flags.Lookup("slave-cert"))
	_ = viper.BindPFlag("socks_proxy", flags.Lookup("socks-proxy"))
	_ = viper.BindEnv("logging_url")
	_ = viper.BindEnv("master_cert")
	_ = viper.BindEnv("slave_cert")
	_ = viper.BindEnv("socks_proxy")
}

// Execute runs the CLI and returns the process exit status.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lavarun: %v\n", err)
		return 1
	}
	return exitStatus
}

func runJob(cmd *cobra.Command, args []string) error {
	// Device control and overlay application need full privilege;
	// this is a precondition, not a retryable error.
	if geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "lavarun must be run as root")
		exitStatus = 1
		return nil
	}

	if jobID == "" {
		jobID = uuid.New().String()
	}

	sink, err := buildSink()
	if err != nil {
		// Pre-logging failure: one local diagnostic, nothing else.
		fmt.Fprintf(os.Stderr, "lavarun: failed to setup logging: %v\n", err)
		exitStatus = 1
		return nil
	}

	cfg := runner.Config{
		JobID:          jobID,
		OutputDir:      outputDir,
		DefinitionPath: args[0],
		DevicePath:     devicePath,
		DispatcherPath: dispatcherPath,
		EnvPath:        envPath,
		ValidateOnly:   validateOnly,
	}

	exitStatus = runner.New(cfg, sink).Run(cmd.Context())
	return nil
}

// buildSink establishes the logging sink exactly once per run: the
// remote record transport when an endpoint is configured, otherwise
// the local stream fallback. A configured endpoint with unusable
// certificates fails setup rather than silently falling back.
func buildSink() (logsink.Sink, error) {
	url := viper.GetString("logging_url")
	if url == "" {
		return logsink.NewStream(jobID, filepath.Join(outputDir, "job.log")), nil
	}
	return logsink.NewRemote(logsink.RemoteConfig{
		URL:        url,
		JobID:      jobID,
		MasterCert: viper.GetString("master_cert"),
		SlaveCert:  viper.GetString("slave_cert"),
		SocksProxy: viper.GetString("socks_proxy"),
		IPv6:       preferIPv6,
	})
}
