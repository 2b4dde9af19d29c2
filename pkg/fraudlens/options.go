package fraudlens

type options struct {
	manifestPath string
	batchWorkers int
}

// Option configures a Detector.
type Option func(*options)

// WithManifest sets the artifact manifest. Paths inside it resolve relative
// to its directory. Default: models/manifest.yaml.
func WithManifest(path string) Option {
	return func(o *options) {
		o.manifestPath = path
	}
}

// WithBatchWorkers sets how many transactions of a batch are scored
// concurrently. Default: 4.
func WithBatchWorkers(n int) Option {
	return func(o *options) {
		o.batchWorkers = n
	}
}

func defaultOptions() options {
	return options{
		manifestPath: "models/manifest.yaml",
		batchWorkers: 4,
	}
}
