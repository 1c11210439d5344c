package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// ConfigSource indicates where a configuration value came from.
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds the concurrency sizing for a conversion worker process.
type Config struct {
	// MaxConcurrentScripts caps simultaneous JavaScript evaluations across
	// all workers.
	MaxConcurrentScripts int

	// RunnerWorkers is the size of the job worker pool.
	RunnerWorkers int

	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig sizes the worker from the environment. Explicit env vars win
// over CPU-based auto-detection.
func LoadConfig() *Config {
	cfg := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if n := getEnvInt("DAEDALUS_MAX_CONCURRENT_SCRIPTS", 0); n > 0 {
		cfg.MaxConcurrentScripts = n
		cfg.Source = ConfigSourceEnvVar
	} else if mult := getEnvInt("DAEDALUS_CONCURRENCY_MULTIPLIER", 0); mult > 0 {
		cfg.MaxConcurrentScripts = cfg.EffectiveCPUs * mult
		cfg.Source = ConfigSourceEnvVar
	} else {
		cfg.MaxConcurrentScripts = defaultMaxConcurrentScripts(cfg.IsKubernetes, cfg.EffectiveCPUs)
		cfg.Source = ConfigSourceAutoDetect
	}
	if cfg.MaxConcurrentScripts < 1 {
		cfg.MaxConcurrentScripts = 1
	}

	if n := getEnvInt("DAEDALUS_RUNNER_WORKERS", 0); n > 0 {
		cfg.RunnerWorkers = n
	} else {
		cfg.RunnerWorkers = defaultRunnerWorkers(cfg.IsKubernetes, cfg.EffectiveCPUs)
	}

	return cfg
}

// isKubernetes detects a Kubernetes pod environment.
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// defaultMaxConcurrentScripts is conservative under Kubernetes where CPU
// quotas make goja runtimes compete harder for cycles.
func defaultMaxConcurrentScripts(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 2
	}
	return cpus * 4
}

func defaultRunnerWorkers(isK8s bool, cpus int) int {
	if isK8s {
		return maxInt(cpus, 4)
	}
	return maxInt(cpus*2, 8)
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrentScripts: %d, RunnerWorkers: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrentScripts, c.RunnerWorkers, c.IsKubernetes, c.EffectiveCPUs, c.Source,
	)
}
