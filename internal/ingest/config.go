package ingest

import "time"

type Config struct {
	// StepTimeout bounds each step of an ingestion (validation, extraction, etc).
	StepTimeout time.Duration `yaml:"step_timeout" env:"INGEST_STEP_TIMEOUT" env-default:"2m"`

	// SweepInterval is how often objects stranded in INGESTED are promoted.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"INGEST_SWEEP_INTERVAL" env-default:"1m"`

	// StrandedAfter is how long an object must have been INGESTED before the
	// sweep considers it stranded.
	StrandedAfter time.Duration `yaml:"stranded_after" env:"INGEST_STRANDED_AFTER" env-default:"30s"`

	PostProcessParallelism int   `yaml:"post_process_parallelism" env:"INGEST_POST_PROCESS_PARALLELISM" env-default:"2"`
	ThumbnailSize          int   `yaml:"thumbnail_size" env:"INGEST_THUMBNAIL_SIZE" env-default:"300"`
	MaxArtworkBytes        int64 `yaml:"max_artwork_bytes" env:"INGEST_MAX_ARTWORK_BYTES" env-default:"26214400"`
}
