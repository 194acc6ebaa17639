package resources

import (
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/schema"
)

// Closed value sets shared by the class definitions.
var (
	ContextTypes  = []string{"activity", "project", "package", "content"}
	FeedbackTypes = []string{"question", "idea", "problem"}
	ArtifactTypes = []string{"instance"}
	Stabilities   = []string{"insecure", "buggy", "developer", "testing", "stable"}

	// GoodLicenses are the license identifiers accepted for uploaded
	// implementations.
	GoodLicenses = []string{
		"AGPLv3+", "Apache2", "Artistic2", "BSD", "CC-BY", "CC-BY-SA",
		"GPLv2", "GPLv2+", "GPLv3", "GPLv3+", "LGPLv2", "LGPLv2+",
		"LGPLv3", "LGPLv3+", "MIT", "MPLv2", "Public Domain",
	}
)

// Classes returns the metadata for every stock document class, in the
// order directories are created on disk.
func Classes() []*schema.Metadata {
	return []*schema.Metadata{
		User(),
		Context(),
		Implementation(),
		Artifact(),
		Review(),
		Feedback(),
		Comment(),
		Report(),
	}
}

// intEnum restricts an integer property to the listed values.
func intEnum(name string, allowed ...int64) schema.Setter {
	return func(_ schema.Doc, value any) (any, error) {
		cast, err := schema.IntCast{}.Cast(value)
		if err != nil {
			return nil, err
		}
		n := cast.(int64)
		for _, a := range allowed {
			if n == a {
				return n, nil
			}
		}
		return nil, errs.Newf(errs.BadRequest, "value %v is out of range for %q", value, name)
	}
}

// ratingRange covers the 0 (unrated) to 5 star scale.
func ratingRange(name string) schema.Setter {
	return intEnum(name, 0, 1, 2, 3, 4, 5)
}

// reviewsCount projects the stored [count, rating sum] pair to its
// count for replies.
func reviewsCount(_ schema.Doc, value any) (any, error) {
	if pair, ok := value.([]any); ok && len(pair) > 0 {
		return pair[0], nil
	}
	return int64(0), nil
}
