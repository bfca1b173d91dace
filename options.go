package molsearch

// SubmitMode selects which submission endpoint creates the job.
type SubmitMode string

const (
	// ModeSynthonGPT submits through the synthon-based generative search endpoint.
	ModeSynthonGPT SubmitMode = "synthongpt"
	// ModeMolSearch submits a classic similarity search job.
	ModeMolSearch SubmitMode = "molsearch"
)

// Defaults applied by NewSearchConfig when an option is not given.
const (
	DefaultDatabase      = "CHEMSPACE-FREEDOM-142B"
	DefaultSearchType    = "espsim_shape"
	DefaultSearchQuality = "fast"
	DefaultPageSize      = 100
	DefaultNeighbors     = 10000
)

// SearchOption represents a search configuration option.
type SearchOption interface {
	Apply(*SearchConfig)
}

// SearchConfig holds all parameters sent along with submissions and page requests.
type SearchConfig struct {
	// Database is the target database name.
	Database string

	// SearchType selects the similarity method, e.g. espsim_shape or morgan.
	SearchType string

	// SearchQuality selects the search depth, e.g. fast or accurate.
	SearchQuality string

	// SubmitMode selects the submission endpoint.
	SubmitMode SubmitMode

	// PageSize is the number of entries requested per results page.
	PageSize int

	// Neighbors is the number of hits wanted per query.
	Neighbors int

	// DBNameAsList sends the database name as a single-element list on page requests.
	// Deployments disagree on which form they accept.
	DBNameAsList bool

	// IncludeProperties asks the service to return molecular properties.
	IncludeProperties bool

	// IncludeMetadata asks the service to return job metadata.
	IncludeMetadata bool

	// Filters restricts the returned neighbors.
	Filters Filters
}

// optionFunc is a function that implements SearchOption.
type optionFunc func(*SearchConfig)

// Apply implements the SearchOption interface for optionFunc.
func (f optionFunc) Apply(cfg *SearchConfig) {
	f(cfg)
}

// NewSearchConfig applies opts over the package defaults.
func NewSearchConfig(opts ...SearchOption) *SearchConfig {
	cfg := &SearchConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(cfg)
		}
	}

	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.SearchType == "" {
		cfg.SearchType = DefaultSearchType
	}
	if cfg.SearchQuality == "" {
		cfg.SearchQuality = DefaultSearchQuality
	}
	if cfg.SubmitMode == "" {
		cfg.SubmitMode = ModeSynthonGPT
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = DefaultNeighbors
	}
	return cfg
}

// WithDatabase sets the target database name.
func WithDatabase(name string) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.Database = name
	})
}

// WithSearchType sets the similarity method.
func WithSearchType(t string) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.SearchType = t
	})
}

// WithSearchQuality sets the search depth.
func WithSearchQuality(q string) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.SearchQuality = q
	})
}

// WithSubmitMode selects the submission endpoint.
func WithSubmitMode(m SubmitMode) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.SubmitMode = m
	})
}

// WithPageSize sets the number of entries per results page.
func WithPageSize(n int) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.PageSize = n
	})
}

// WithNeighbors sets the number of hits wanted per query.
func WithNeighbors(n int) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.Neighbors = n
	})
}

// WithDBNameAsList toggles the list form of the database name on page requests.
func WithDBNameAsList(on bool) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.DBNameAsList = on
	})
}

// WithIncludeProperties asks for molecular properties in results.
func WithIncludeProperties(on bool) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.IncludeProperties = on
	})
}

// WithIncludeMetadata asks for job metadata in results.
func WithIncludeMetadata(on bool) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.IncludeMetadata = on
	})
}
