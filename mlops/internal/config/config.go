// Package config loads the environment-provided settings of each mlops entrypoint.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Common is shared by every entrypoint.
type Common struct {
	Region      string `envconfig:"AWS_REGION" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MaxAttempts int    `envconfig:"AWS_MAX_ATTEMPTS" default:"3"`
}

// Gate configures the evaluation dispatcher and the approval poller.
type Gate struct {
	Common
	PipelineName string  `envconfig:"PIPELINE_NAME" required:"true"`
	ModelName    string  `envconfig:"MODEL_NAME" required:"true"`
	Threshold    float64 `envconfig:"MODEL_BASELINE_QUALITY_THRESHOLD" required:"true"`
	Bucket       string  `envconfig:"PIPELINE_BUCKET" required:"true"`

	DatabaseURL  string   `envconfig:"DATABASE_URL"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"mlops.gate.decisions"`
}

// Service configures the long-running gate operator service.
type Service struct {
	Gate
	Addr       string `envconfig:"GATE_ADDR" default:":8071"`
	JWTSecret  string `envconfig:"GATE_JWT_SECRET"`
	DebugToken string `envconfig:"GATE_DEBUG_TOKEN"`
}

type Registry struct {
	Common
	ModelPackageParameter string `envconfig:"MODEL_PACKAGE_NAME" required:"true"`
}

type EndpointTest struct {
	Common
	PipelineName  string `envconfig:"PIPELINE_NAME" required:"true"`
	Bucket        string `envconfig:"PIPELINE_BUCKET" required:"true"`
	Endpoint      string `envconfig:"ENDPOINT" required:"true"`
	TestData      string `envconfig:"TEST_DATA" required:"true"`
	Mode          string `envconfig:"ENDPOINT_TEST_MODE" default:"dev"`
	ResultsPrefix string `envconfig:"RESULTS_PREFIX"`
}

type Staging struct {
	Common
}

// StageConfig configures the build-time deployment config writer.
type StageConfig struct {
	Common
	Stage                 string `envconfig:"STAGE" required:"true"`
	PipelineName          string `envconfig:"PIPELINE_NAME" required:"true"`
	ModelName             string `envconfig:"MODEL_NAME" required:"true"`
	SourceDir             string `envconfig:"CODEBUILD_SRC_DIR" default:"."`
	ModelPackageParameter string `envconfig:"MODEL_PACKAGE_NAME"`
	ImageTag              string `envconfig:"IMAGE_TAG"`
	ModelGroup            string `envconfig:"MODEL_GROUP"`
	ContainerRegistryURI  string `envconfig:"CONTAINER_REGISTRY_URI"`
	Bucket                string `envconfig:"PIPELINE_BUCKET"`
}

// Load fills dst from the environment. When MLOPS_ENV_FILE names a file it is
// loaded first; variables already set in the process win.
func Load(dst interface{}) error {
	if envFile := strings.TrimSpace(os.Getenv("MLOPS_ENV_FILE")); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("process environment config: %w", err)
	}
	return nil
}

func LoadGate() (Gate, error) {
	var cfg Gate
	if err := Load(&cfg); err != nil {
		return Gate{}, err
	}
	if cfg.Threshold < 0 {
		return Gate{}, fmt.Errorf("MODEL_BASELINE_QUALITY_THRESHOLD must be non-negative, got %v", cfg.Threshold)
	}
	return cfg, nil
}

func LoadService() (Service, error) {
	var cfg Service
	if err := Load(&cfg); err != nil {
		return Service{}, err
	}
	return cfg, nil
}

func LoadRegistry() (Registry, error) {
	var cfg Registry
	err := Load(&cfg)
	return cfg, err
}

func LoadEndpointTest() (EndpointTest, error) {
	var cfg EndpointTest
	if err := Load(&cfg); err != nil {
		return EndpointTest{}, err
	}
	switch cfg.Mode {
	case "dev", "pipeline":
	default:
		return EndpointTest{}, fmt.Errorf("ENDPOINT_TEST_MODE must be dev or pipeline, got %q", cfg.Mode)
	}
	return cfg, nil
}

func LoadStaging() (Staging, error) {
	var cfg Staging
	err := Load(&cfg)
	return cfg, err
}

func LoadStageConfig() (StageConfig, error) {
	var cfg StageConfig
	err := Load(&cfg)
	return cfg, err
}
