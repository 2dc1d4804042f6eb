package config

import "time"

// BuilderConfig holds runtime configuration for a single build worker run.
type BuilderConfig struct {
	RepositoryURL string `env:"GIT_REPOSITORY__URL,required"`
	ProjectID     string `env:"PROJECT_ID,required"`
	DeploymentID  string `env:"DEPLOYEMENT_ID,required"`

	APIURL   string `env:"API_URL" envDefault:"http://localhost:9000"`
	NatsURL  string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Workdir      string        `env:"BUILDER_WORKDIR" envDefault:"/tmp/cloudara"`
	OutputDir    string        `env:"OUTPUT_DIR" envDefault:"dist"`
	BuildCommand string        `env:"BUILD_COMMAND"`
	GitTimeout   time.Duration `env:"GIT_TIMEOUT" envDefault:"60s"`
	BuildTimeout time.Duration `env:"BUILD_TIMEOUT" envDefault:"10m"`

	StatusTimeout    time.Duration `env:"STATUS_TIMEOUT" envDefault:"10s"`
	PublishTimeout   time.Duration `env:"LOG_PUBLISH_TIMEOUT" envDefault:"30s"`
	OutboxMaxPending int           `env:"LOG_OUTBOX_MAX_PENDING" envDefault:"256"`

	ArtifactBackend  string `env:"ARTIFACT_BACKEND" envDefault:"s3"`
	ArtifactBucket   string `env:"ARTIFACT_BUCKET" envDefault:"cloudara-outputs"`
	ArtifactEndpoint string `env:"ARTIFACT_ENDPOINT"`
	ArtifactRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	ArtifactPrefix   string `env:"ARTIFACT_PREFIX" envDefault:"__outputs"`
	MinioAccessKey   string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey   string `env:"MINIO_SECRET_KEY"`
	MinioUseSSL      bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

// LoadBuilderConfig constructs a BuilderConfig from the job environment.
func LoadBuilderConfig() (BuilderConfig, error) {
	var cfg BuilderConfig
	if err := parse(&cfg); err != nil {
		return BuilderConfig{}, err
	}
	return cfg, nil
}
