package inference

// Request is one fully resolved answer request.
type Request struct {
	Question string
	Category string
	// Subcat is optional. An empty value omits the subcategory line.
	Subcat        string
	MaxNewTokens  int
	MinNewTokens  int
	Deterministic bool
	// Temperature and TopP only apply when Deterministic is false.
	Temperature float32
	TopP        float32
}

const (
	DefaultCategory     = "regs"
	DefaultMaxNewTokens = 256
	DefaultMinNewTokens = 64
	DefaultTemperature  = 0.7
	DefaultTopP         = 0.9
)

func DefaultRequest(question string) Request {
	return Request{
		Question:      question,
		Category:      DefaultCategory,
		MaxNewTokens:  DefaultMaxNewTokens,
		MinNewTokens:  DefaultMinNewTokens,
		Deterministic: true,
		Temperature:   DefaultTemperature,
		TopP:          DefaultTopP,
	}
}

// RequestOptions overrides request defaults. Nil fields keep the default.
type RequestOptions struct {
	MaxNewTokens  *int
	MinNewTokens  *int
	Deterministic *bool
	Temperature   *float32
	TopP          *float32
}

// ResolveRequest applies opts over DefaultRequest. A blank category falls
// back to DefaultCategory.
func ResolveRequest(question, category, subcat string, opts RequestOptions) Request {
	req := DefaultRequest(question)
	if category != "" {
		req.Category = category
	}
	req.Subcat = subcat

	if opts.MaxNewTokens != nil {
		req.MaxNewTokens = *opts.MaxNewTokens
	}
	if opts.MinNewTokens != nil {
		req.MinNewTokens = *opts.MinNewTokens
	}
	if opts.Deterministic != nil {
		req.Deterministic = *opts.Deterministic
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}
	return req
}

// Ptr returns a pointer to v, for filling RequestOptions.
func Ptr[T any](v T) *T { return &v }
