package extractor

import "time"

// Defaults for the Gemini extraction call.
const (
	// DefaultModelName is the Gemini model used for extraction.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultMaxOutputTokens bounds the structured response size.
	DefaultMaxOutputTokens = 4096

	// DefaultTimeout is applied to each extraction call when the caller
	// does not configure one.
	DefaultTimeout = 2 * time.Minute

	// imageMIMEType is the encoding produced by the rasterizer.
	imageMIMEType = "image/jpeg"

	// taskPrompt accompanies the page images in the user message.
	taskPrompt = "Parse these credit card statement images and return the structured statement information."
)
